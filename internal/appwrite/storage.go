package appwrite

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/docpilot/docpilot/internal/target"
)

// PKCS12ContentType is the media type of .pfx bundles.
const PKCS12ContentType = "application/x-pkcs12"

// File is the metadata Appwrite returns for an uploaded file.
type File struct {
	ID       string `json:"$id"`
	BucketID string `json:"bucketId"`
	Name     string `json:"name"`
	Size     int64  `json:"sizeOriginal"`
	MimeType string `json:"mimeType"`
}

func filesPath(bucketID string) string {
	return "/storage/buckets/" + url.PathEscape(bucketID) + "/files"
}

// CreateFile uploads data as a single multipart request. Appwrite requires
// chunked uploads above 5 MB, which certificates never reach.
func (c *Client) CreateFile(ctx context.Context, bucketID, fileID, filename, contentType string, data []byte, permissions []string) (*File, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("fileId", fileID); err != nil {
		return nil, err
	}
	for _, p := range permissions {
		if err := w.WriteField("permissions[]", p); err != nil {
			return nil, err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, filesPath(bucketID), buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var f File
	if err := c.send(req, &f); err != nil {
		return nil, fmt.Errorf("uploading %s to bucket %s: %w", filename, bucketID, err)
	}
	return &f, nil
}

// FileViewURL returns the public view URL of a stored file.
func (c *Client) FileViewURL(bucketID, fileID string) string {
	return fmt.Sprintf("%s%s/%s/view?project=%s",
		c.endpoint, filesPath(bucketID), url.PathEscape(fileID), url.QueryEscape(c.projectID))
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// FileStore uploads certificate bundles to one Appwrite storage bucket.
type FileStore struct {
	Client      *Client
	BucketID    string
	Permissions []string
}

// NewFileStore returns a store for bucketID whose files are readable by
// anyone holding the URL.
func NewFileStore(c *Client, bucketID string) *FileStore {
	return &FileStore{
		Client:      c,
		BucketID:    bucketID,
		Permissions: []string{target.Permission("read", "any")},
	}
}

// Upload stores data under fileID and returns its view URL.
func (s *FileStore) Upload(ctx context.Context, fileID, filename string, data []byte) (string, error) {
	if s.BucketID == "" {
		return "", fmt.Errorf("appwrite storage: bucket id is not configured")
	}
	f, err := s.Client.CreateFile(ctx, s.BucketID, fileID, filename, PKCS12ContentType, data, s.Permissions)
	if err != nil {
		return "", err
	}
	return s.Client.FileViewURL(s.BucketID, f.ID), nil
}
