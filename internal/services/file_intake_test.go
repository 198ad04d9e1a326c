package services

import (
	"bytes"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/apperrors"
)

// fileHeader builds a parsed multipart upload the way gin hands it over.
func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

func validationMessage(t *testing.T, err error) string {
	t.Helper()
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Message
}

func TestFileIntake_Validate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Importer.MaxFileSize = 16
	intake := NewFileIntake(cfg.Importer, testLogger())

	assert.Equal(t, "No file provided", validationMessage(t, intake.Validate(nil)))

	err := intake.Validate(fileHeader(t, "products.txt", []byte("a")))
	assert.True(t, strings.HasPrefix(validationMessage(t, err), "Invalid file type"))

	err = intake.Validate(fileHeader(t, "products.csv", bytes.Repeat([]byte("x"), 17)))
	assert.True(t, strings.HasPrefix(validationMessage(t, err), "File size exceeds"))

	assert.NoError(t, intake.Validate(fileHeader(t, "PRODUCTS.CSV", []byte("sku,name\n"))))
}

func TestFileIntake_Stage(t *testing.T) {
	cfg := testConfig(t)
	intake := NewFileIntake(cfg.Importer, testLogger())
	content := []byte("sku,name\na,b\n")

	staged, err := intake.Stage(fileHeader(t, "catalog.csv", content))
	require.NoError(t, err)

	assert.Equal(t, "catalog.csv", staged.Name)
	assert.Equal(t, int64(len(content)), staged.Size)
	assert.Equal(t, cfg.Importer.UploadDir, filepath.Dir(staged.Path))
	base := filepath.Base(staged.Path)
	assert.True(t, strings.HasPrefix(base, "csv_import_"))
	assert.True(t, strings.HasSuffix(base, "_catalog.csv"))

	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	again, err := intake.Stage(fileHeader(t, "catalog.csv", content))
	require.NoError(t, err)
	assert.NotEqual(t, staged.Path, again.Path)

	intake.Remove(staged.Path)
	intake.Remove(staged.Path)
	_, err = os.Stat(staged.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileIntake_StageEnforcesCapWhileStreaming(t *testing.T) {
	cfg := testConfig(t)
	cfg.Importer.MaxFileSize = 8
	intake := NewFileIntake(cfg.Importer, testLogger())

	upload := fileHeader(t, "big.csv", bytes.Repeat([]byte("x"), 64))
	upload.Size = 4

	_, err := intake.Stage(upload)
	assert.True(t, strings.HasPrefix(validationMessage(t, err), "File size exceeds"))

	entries, err := os.ReadDir(cfg.Importer.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
