package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
)

// exportBatchSize is both the tag lookup batch and the flush interval
const exportBatchSize = 100

// exportService is the concrete implementation of ExportService
type exportService struct {
	repos *repository.Repositories
	log   zerolog.Logger
}

// newExportService creates a new ExportService
func newExportService(repos *repository.Repositories, log zerolog.Logger) *exportService {
	return &exportService{
		repos: repos,
		log:   log.With().Str("service", "export").Logger(),
	}
}

// StreamArticles streams every live article with its tags in the specified format
func (s *exportService) StreamArticles(ctx context.Context, w http.ResponseWriter, format string) error {
	var enc recordWriter
	switch format {
	case "", "ndjson":
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=articles.ndjson")
		enc = &ndjsonWriter{w: w}
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=articles.json")
		enc = &jsonArrayWriter{w: w}
	default:
		return apperr.Validation("export", apperr.FieldError{
			Field: "format", Message: "unsupported format, must be one of: ndjson, json", Value: format,
		})
	}

	s.log.Info().Str("format", format).Msg("Starting articles export")

	flusher, _ := w.(http.Flusher)
	count := 0
	batch := make([]*models.Article, 0, exportBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids := make([]int64, len(batch))
		for i, a := range batch {
			ids[i] = a.ID
		}
		tags, err := s.repos.Tag.ListForArticles(ctx, ids)
		if err != nil {
			return err
		}
		for _, a := range batch {
			a.Tags = tags[a.ID]
			if err := enc.write(a); err != nil {
				return err
			}
			count++
		}
		batch = batch[:0]
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := enc.begin(); err != nil {
		return err
	}
	err := s.repos.Article.StreamAll(ctx, false, func(a *models.Article) error {
		batch = append(batch, a)
		if len(batch) == exportBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if endErr := enc.end(); err == nil {
		err = endErr
	}

	if err != nil {
		s.log.Error().Err(err).Int("count", count).Msg("Articles export failed")
		return err
	}
	s.log.Info().Int("count", count).Msg("Articles export completed")
	return nil
}

type recordWriter interface {
	begin() error
	write(a *models.Article) error
	end() error
}

type ndjsonWriter struct {
	w http.ResponseWriter
}

func (n *ndjsonWriter) begin() error { return nil }
func (n *ndjsonWriter) end() error   { return nil }

func (n *ndjsonWriter) write(a *models.Article) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = n.w.Write(data)
	return err
}

type jsonArrayWriter struct {
	w     http.ResponseWriter
	first bool
}

func (j *jsonArrayWriter) begin() error {
	j.first = true
	_, err := j.w.Write([]byte("["))
	return err
}

func (j *jsonArrayWriter) write(a *models.Article) error {
	if !j.first {
		if _, err := j.w.Write([]byte(",")); err != nil {
			return err
		}
	}
	j.first = false

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = j.w.Write(data)
	return err
}

func (j *jsonArrayWriter) end() error {
	_, err := j.w.Write([]byte("]"))
	return err
}
