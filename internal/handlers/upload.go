package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxUploadSize = 5 << 20

// UploadFile stores one image or PDF under dir and returns its public URL.
func UploadFile(dir, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/uploads"
		defer handlePanic(c, route)

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+1<<20)
		file, err := c.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			file, err = c.FormFile("image")
		}
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "file is required")
			return
		}

		name, err := saveUpload(dir, file)
		if err != nil {
			var bad *uploadError
			if errors.As(err, &bad) {
				respondWithError(c, http.StatusBadRequest, route, bad.Error())
				return
			}
			respondInternal(c, route, err)
			return
		}

		path := "/files/" + name
		c.JSON(http.StatusCreated, gin.H{
			"filename": name,
			"path":     path,
			"url":      publicBaseURL + path,
		})
	}
}

func DeleteUpload(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/uploads/:filename"
		defer handlePanic(c, route)

		if err := safeDeleteUpload(dir, c.Param("filename")); err != nil {
			if errors.Is(err, errBadFilename) {
				respondWithError(c, http.StatusBadRequest, route, "invalid filename")
				return
			}
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
	}
}

// ServeFile serves uploads by bare filename.
func ServeFile(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /files/:filename"
		defer handlePanic(c, route)

		name := c.Param("filename")
		target, err := resolveUploadPath(dir, name)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid filename")
			return
		}
		info, err := os.Stat(target)
		if err != nil || info.IsDir() {
			respondWithError(c, http.StatusNotFound, route, "file not found")
			return
		}

		c.Header("Content-Type", contentTypeFor(name))
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cache-Control", "public, max-age=86400")
		c.File(target)
	}
}

type uploadError struct{ msg string }

func (e *uploadError) Error() string { return e.msg }

func saveUpload(dir string, file *multipart.FileHeader) (string, error) {
	extension := strings.ToLower(filepath.Ext(file.Filename))
	if extension == "" {
		return "", &uploadError{"file extension is required"}
	}
	declared, ok := contentTypes[extension]
	if !ok {
		return "", &uploadError{fmt.Sprintf("unsupported file type: %s", extension)}
	}
	if file.Size > maxUploadSize {
		return "", &uploadError{"file too large (max 5MB)"}
	}

	in, err := file.Open()
	if err != nil {
		return "", err
	}
	defer in.Close()

	detected, err := mimetype.DetectReader(in)
	if err != nil {
		return "", err
	}
	if !detected.Is(declared) {
		return "", &uploadError{fmt.Sprintf("file content is %s, not %s", detected.String(), declared)}
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[UPLOAD] failed to create directory %s: %v", dir, err)
		return "", err
	}

	filename := primitive.NewObjectID().Hex() + extension
	fullPath, err := resolveUploadPath(dir, filename)
	if err != nil {
		return "", err
	}
	out, err := os.Create(fullPath)
	if err != nil {
		log.Printf("[UPLOAD] failed to create file %s: %v", fullPath, err)
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		log.Printf("[UPLOAD] failed to save file %s: %v", fullPath, err)
		return "", err
	}
	log.Printf("[UPLOAD] saved %s (%d bytes)", filename, file.Size)
	return filename, nil
}
