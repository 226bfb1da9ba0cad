package middleware

import (
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"

	"github.com/emandor/lemme_grader/internal/config"
)

// file upload validator middleware for checking file type and size
func FileUploadValidator(cfg *config.Config) fiber.Handler {
	extMap := make(map[string]struct{})
	for _, e := range cfg.AllowedFileExt {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		extMap[e] = struct{}{}
	}
	maxSize := int64(cfg.AllowedMaxFileSize) * 1024 * 1024

	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid multipart form",
			})
		}

		n := 0
		for _, files := range form.File {
			for _, file := range files {
				n++
				if err := validateFile(file, extMap, maxSize); err != nil {
					return c.Status(err.Code).JSON(fiber.Map{
						"error": err.Message,
					})
				}
			}
		}
		if n == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no file uploaded"})
		}

		return c.Next()
	}
}

// validateFile checks the size, the extension and the sniffed content type
func validateFile(file *multipart.FileHeader, extMap map[string]struct{}, maxSize int64) *fiber.Error {
	if maxSize > 0 && file.Size > maxSize {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "file too large")
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := extMap[ext]; !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid file type")
	}

	f, err := file.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot open file")
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot read file")
	}
	if !contentMatches(ext, mt) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid file content")
	}
	return nil
}

// the sniffed type must agree with the extension
func contentMatches(ext string, mt *mimetype.MIME) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return mt.Is("image/jpeg")
	case ".png":
		return mt.Is("image/png")
	default:
		return false
	}
}
