package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tdzsx789/xufei-agent/internal/protocol"
	"github.com/tdzsx789/xufei-agent/server/internal/images"
)

const (
	imageField = "image"

	// multipartSlack is the allowance for multipart framing on top of the
	// image size cap.
	multipartSlack = 1 << 20

	msgNotImage  = "Only image files are allowed (jpeg, jpg, png, gif, bmp, webp)"
	msgTooLarge  = "File size exceeds limit (max 10MB)"
	msgTooMany   = "Upload file count exceeds limit (only 1 file allowed)"
	msgCreated   = "Folder created successfully"
	msgExisted   = "Folder already exists"
	msgNoFolder  = "stored_images folder does not exist"
	msgBadUpload = "invalid multipart body"
)

type storeImageResponse struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	UploadedFile *images.Stored `json:"uploadedFile"`
	FolderPath   string         `json:"folderPath"`
	FileList     []images.Entry `json:"fileList"`
	TotalFiles   int            `json:"totalFiles"`
}

type listStoredResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	FolderPath string         `json:"folderPath"`
	FileList   []images.Entry `json:"fileList"`
	TotalFiles int            `json:"totalFiles"`
	ImageFiles int            `json:"imageFiles"`
}

type imageInfo struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName,omitempty"`
	URL          string    `json:"url"`
	LocalPath    string    `json:"localPath"`
	Size         int64     `json:"size"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
}

type getImagesResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Images     []imageInfo `json:"images"`
	TotalCount int         `json:"totalCount"`
}

type failureResponse struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	UploadedFile *images.Stored `json:"uploadedFile"`
	FileList     []images.Entry `json:"fileList,omitempty"`
	Images       []imageInfo    `json:"images,omitempty"`
}

func (s *Server) handleStoreImage(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, images.MaxImageBytes+multipartSlack)

	fileHeader, err := singleImage(c)
	if err != nil {
		uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		return err
	}

	existed := s.images.FolderStatus().Exists
	var stored *images.Stored
	if fileHeader != nil {
		src, err := fileHeader.Open()
		if err != nil {
			uploadsTotal.WithLabelValues(outcomeRejected).Inc()
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("open uploaded file: %v", err))
		}
		defer src.Close()

		out, err := s.images.Put(req.Context(), images.PutInput{
			OriginalName: fileHeader.Filename,
			ContentType:  fileHeader.Header.Get(echo.HeaderContentType),
			Size:         fileHeader.Size,
			Reader:       src,
		})
		switch {
		case errors.Is(err, images.ErrNotImage):
			uploadsTotal.WithLabelValues(outcomeRejected).Inc()
			return echo.NewHTTPError(http.StatusBadRequest, msgNotImage)
		case errors.Is(err, images.ErrTooLarge):
			uploadsTotal.WithLabelValues(outcomeRejected).Inc()
			return echo.NewHTTPError(http.StatusBadRequest, msgTooLarge)
		case err != nil:
			uploadsTotal.WithLabelValues(outcomeFailed).Inc()
			slog.Error("process image upload", "name", fileHeader.Filename, "err", err)
			return c.JSON(http.StatusInternalServerError, failureResponse{
				Success: false,
				Message: fmt.Sprintf("Error processing upload: %v", err),
			})
		}
		stored = &out
		uploadsTotal.WithLabelValues(outcomeStored).Inc()
		uploadBytes.Add(float64(out.Size))
	} else {
		uploadsTotal.WithLabelValues(outcomeEmpty).Inc()
		if _, err := s.images.EnsureFolder(); err != nil {
			return c.JSON(http.StatusInternalServerError, failureResponse{
				Success: false,
				Message: fmt.Sprintf("Folder creation failed: %v", err),
			})
		}
	}

	list, err := s.images.List(req.Context())
	if err != nil {
		slog.Error("read file list", "err", err)
		list = []images.Entry{}
	}

	if stored != nil {
		s.hub.Publish(protocol.Message{
			Type:  protocol.TypeImageStored,
			Total: len(list),
			Image: &protocol.Image{
				FileName:     stored.FileName,
				OriginalName: stored.OriginalName,
				URL:          s.imageURL(stored.FileName),
				Size:         stored.Size,
				ContentType:  stored.ContentType,
			},
		})
	}

	return c.JSON(http.StatusOK, storeImageResponse{
		Success:      true,
		Message:      "Folder status: " + folderMessage(!existed),
		UploadedFile: stored,
		FolderPath:   s.images.Dir(),
		FileList:     list,
		TotalFiles:   len(list),
	})
}

// singleImage extracts the one file sent under the image field. It returns
// nil when the request carries no file.
func singleImage(c echo.Context) (*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, echo.NewHTTPError(http.StatusBadRequest, msgTooLarge)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			return nil, nil
		default:
			return nil, echo.NewHTTPError(http.StatusBadRequest, msgBadUpload)
		}
	}
	files := form.File[imageField]
	switch len(files) {
	case 0:
		return nil, nil
	case 1:
		if files[0].Size > images.MaxImageBytes {
			return nil, echo.NewHTTPError(http.StatusBadRequest, msgTooLarge)
		}
		return files[0], nil
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, msgTooMany)
	}
}

func (s *Server) handleListStored(c echo.Context) error {
	created, err := s.images.EnsureFolder()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, failureResponse{
			Success:  false,
			Message:  fmt.Sprintf("Folder access failed: %v", err),
			FileList: []images.Entry{},
		})
	}

	list, err := s.images.List(c.Request().Context())
	if err != nil {
		slog.Error("read file list", "err", err)
		list = []images.Entry{}
	}
	imageCount := 0
	for _, e := range list {
		if e.IsImage {
			imageCount++
		}
	}

	return c.JSON(http.StatusOK, listStoredResponse{
		Success:    true,
		Message:    "Folder status: " + folderMessage(created),
		FolderPath: s.images.Dir(),
		FileList:   list,
		TotalFiles: len(list),
		ImageFiles: imageCount,
	})
}

func (s *Server) handleGetImages(c echo.Context) error {
	if !s.images.FolderStatus().Exists {
		return c.JSON(http.StatusOK, getImagesResponse{
			Success: true,
			Message: msgNoFolder,
			Images:  []imageInfo{},
		})
	}

	entries, err := s.images.Images(c.Request().Context())
	if err != nil {
		slog.Error("list images", "err", err)
		return c.JSON(http.StatusInternalServerError, failureResponse{
			Success: false,
			Message: fmt.Sprintf("Error getting image list: %v", err),
			Images:  []imageInfo{},
		})
	}

	out := make([]imageInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, imageInfo{
			Filename:     e.Name,
			OriginalName: e.OriginalName,
			URL:          s.imageURL(e.Name),
			LocalPath:    filepath.Join(s.images.Dir(), e.Name),
			Size:         e.Size,
			Created:      e.Created,
			Modified:     e.Modified,
		})
	}
	return c.JSON(http.StatusOK, getImagesResponse{
		Success:    true,
		Message:    fmt.Sprintf("Found %d images", len(out)),
		Images:     out,
		TotalCount: len(out),
	})
}

func (s *Server) imageURL(name string) string {
	return strings.TrimRight(s.publicURL, "/") + "/images/" + url.PathEscape(name)
}

func folderMessage(created bool) string {
	if created {
		return msgCreated
	}
	return msgExisted
}
