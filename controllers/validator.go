package controllers

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var allowedImportExtensions = map[string]bool{
	".csv":  true,
	".txt":  true,
	".xlsx": true,
}

// ImportQuery holds the query flags of the import endpoints.
type ImportQuery struct {
	Async   bool `form:"async"`
	Discard bool `form:"discard"`
}

// TemplateQuery selects the template format.
type TemplateQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv xlsx"`
}

// RequestValidator handles input validation for the import endpoints.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// BindQuery binds the query string into dst and validates it.
func (rv *RequestValidator) BindQuery(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindQuery(dst); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	if err := rv.validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// IsValidImportFile accepts CSV, plain text and XLSX uploads by extension.
func (rv *RequestValidator) IsValidImportFile(file *multipart.FileHeader) bool {
	return allowedImportExtensions[strings.ToLower(filepath.Ext(file.Filename))]
}

func (rv *RequestValidator) ValidateFileSize(file *multipart.FileHeader) error {
	if file.Size > MaxUploadSize {
		return fmt.Errorf("file too large (max %dMB)", MaxUploadSize/(1024*1024))
	}
	return nil
}

// ReadUpload validates the "file" form field and returns its name and bytes.
func (rv *RequestValidator) ReadUpload(c *gin.Context) (string, []byte, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("file is required")
	}
	if !rv.IsValidImportFile(file) {
		return "", nil, fmt.Errorf("invalid file type. Only CSV and XLSX files are allowed")
	}
	if err := rv.ValidateFileSize(file); err != nil {
		return "", nil, err
	}
	f, err := file.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}
	return filepath.Base(file.Filename), data, nil
}
