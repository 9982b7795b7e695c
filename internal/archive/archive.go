// Package archive copies whole collections to and from object storage as
// newline-delimited JSON.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/repository"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
)

const contentType = "application/x-ndjson"

// maxLine bounds a single exported document.
const maxLine = 16 << 20

// ObjectStore is the part of object storage the archive uses.
type ObjectStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// ObjectKey names an export of collection taken at t.
func ObjectKey(collection string, t time.Time) string {
	return fmt.Sprintf("exports/%s/%s.ndjson", collection, t.UTC().Format("20060102T150405Z"))
}

// Export uploads every document of repo, oldest first, under key and returns
// how many were written.
func Export[T any, PT interface {
	*T
	models.Document
}](ctx context.Context, repo *repository.Repository[T, PT], objects ObjectStore, key string) (int, error) {
	res, err := repo.Find(ctx, nil, repository.FindOptions{
		Sort: []repository.SortField{{Field: models.FieldCreatedAt, Direction: repository.Ascending}},
	})
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	n := 0
	for doc, err := range res.All(ctx) {
		if err != nil {
			return 0, err
		}
		if err := enc.Encode(doc); err != nil {
			return 0, fmt.Errorf("export %s: encode %s: %w", repo.Collection(), doc.GetID(), err)
		}
		n++
	}
	if err := objects.UploadFile(ctx, key, &buf, int64(buf.Len()), contentType); err != nil {
		return 0, fmt.Errorf("export %s: %w", repo.Collection(), err)
	}
	logger.Infof("archive: exported %d documents from %s to %s", n, repo.Collection(), key)
	return n, nil
}

// Import reads an export from key and upserts each document by id, so
// running it twice leaves one copy of every document. Existing documents keep
// their createdAt.
func Import[T any, PT interface {
	*T
	models.Document
}](ctx context.Context, repo *repository.Repository[T, PT], objects ObjectStore, key string) (int, error) {
	rc, err := objects.DownloadFile(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", repo.Collection(), err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	n, line := 0, 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		doc := PT(new(T))
		if err := json.Unmarshal(sc.Bytes(), doc); err != nil {
			return n, fmt.Errorf("import %s: line %d: %w", repo.Collection(), line, err)
		}
		if doc.GetID() == "" {
			return n, fmt.Errorf("import %s: line %d: %w: document without id", repo.Collection(), line, repository.ErrValidation)
		}
		if _, err := repo.Upsert(ctx, bson.M{"id": doc.GetID()}, doc); err != nil {
			return n, fmt.Errorf("import %s: line %d: %w", repo.Collection(), line, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("import %s: %w", repo.Collection(), err)
	}
	logger.Infof("archive: imported %d documents into %s from %s", n, repo.Collection(), key)
	return n, nil
}
