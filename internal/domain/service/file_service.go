package service

import (
	"context"
	"io"
)

// FileUploadService is the blob store used for chat image attachments.
// UploadFile returns a retrievable URL for the stored object.
type FileUploadService interface {
	UploadFile(ctx context.Context, file io.Reader, contentType, folder string) (string, error)
	Close() error
}
