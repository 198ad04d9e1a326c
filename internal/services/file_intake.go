package services

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/config"
)

var errFileTooLarge = errors.New("file exceeds size limit")

// StagedFile is an upload persisted to the scratch directory.
type StagedFile struct {
	Path string
	Name string
	Size int64
}

// FileIntake validates uploads and streams them to disk for the importer.
// Callers own the staged file and must remove it.
type FileIntake struct {
	cfg    config.ImporterConfig
	logger *logrus.Logger
}

func NewFileIntake(cfg config.ImporterConfig, logger *logrus.Logger) *FileIntake {
	return &FileIntake{cfg: cfg, logger: logger}
}

// Validate checks the upload's name and declared size.
func (fi *FileIntake) Validate(upload *multipart.FileHeader) error {
	if upload == nil {
		return apperrors.NewValidation("No file provided")
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	allowed := false
	for _, candidate := range fi.cfg.AllowedExtensions {
		if strings.EqualFold(candidate, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperrors.NewValidation(fmt.Sprintf("Invalid file type. Only %s are allowed",
			strings.Join(fi.cfg.AllowedExtensions, ", ")))
	}

	if upload.Size > fi.cfg.MaxFileSize {
		return fi.tooLarge()
	}
	return nil
}

// Stage validates the upload and copies it to a uniquely named file under the
// scratch directory. The size cap is enforced while streaming as well, the
// declared size is client supplied.
func (fi *FileIntake) Stage(upload *multipart.FileHeader) (*StagedFile, error) {
	if err := fi.Validate(upload); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(fi.cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	src, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	base := filepath.Base(upload.Filename)
	path := filepath.Join(fi.cfg.UploadDir, fmt.Sprintf("csv_import_%s_%s", uuid.New(), base))

	written, err := fi.copyCapped(path, src)
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			fi.logger.WithError(removeErr).WithField("path", path).Warn("Failed to remove partial upload")
		}
		if errors.Is(err, errFileTooLarge) {
			return nil, fi.tooLarge()
		}
		return nil, err
	}

	fi.logger.WithFields(logrus.Fields{
		"file_name": base,
		"file_size": written,
		"path":      path,
	}).Debug("Upload staged")

	return &StagedFile{Path: path, Name: base, Size: written}, nil
}

func (fi *FileIntake) copyCapped(path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to create staged file: %w", err)
	}

	// One byte past the cap tells an exact fit from an overflow
	written, err := io.Copy(dst, io.LimitReader(src, fi.cfg.MaxFileSize+1))
	closeErr := dst.Close()
	if err != nil {
		return written, fmt.Errorf("failed to write staged file: %w", err)
	}
	if closeErr != nil {
		return written, fmt.Errorf("failed to close staged file: %w", closeErr)
	}
	if written > fi.cfg.MaxFileSize {
		return written, errFileTooLarge
	}
	return written, nil
}

func (fi *FileIntake) tooLarge() error {
	return apperrors.NewValidation(fmt.Sprintf("File size exceeds maximum allowed size of %g MB",
		float64(fi.cfg.MaxFileSize)/(1024*1024)))
}

// Remove deletes a staged file. A file that is already gone is not an error.
func (fi *FileIntake) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fi.logger.WithError(err).WithField("path", path).Warn("Failed to remove staged file")
	}
}
