// Package dump exports stored entities as BSON, one file of concatenated
// documents per entity type, next to the schema file that describes them.
package dump

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
	"github.com/devrev/entitydb/internal/schemafile"
)

// SchemaFileName is written next to the per-type dumps.
const SchemaFileName = "schema.yaml"

// Source is the part of the entity store an export reads.
type Source interface {
	EntityDefinitions() []*model.EntityDefinition
	EntityIndexes(entity string) ([]*model.EntityIndex, error)
	ExecuteQuery(ctx context.Context, q *query.Query) (*query.Result, error)
}

// Config holds exporter configuration
type Config struct {
	PageSize    int
	Concurrency int
}

// Stats summarizes one export.
type Stats struct {
	Entities map[string]int
	Duration time.Duration
}

// Exporter walks every entity type through its primary index.
type Exporter struct {
	src    Source
	cfg    Config
	logger *zap.Logger
}

// NewExporter creates an Exporter.
func NewExporter(src Source, cfg Config, logger *zap.Logger) *Exporter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Exporter{src: src, cfg: cfg, logger: logger}
}

// ExportAll writes the schema file and one <Type>.bson file per entity
// type into dir. Types are exported concurrently.
func (x *Exporter) ExportAll(ctx context.Context, dir string) (*Stats, error) {
	start := time.Now()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	defs := x.src.EntityDefinitions()
	if err := x.writeSchema(dir, defs); err != nil {
		return nil, err
	}

	counts := make([]int, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Concurrency)
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			n, err := x.exportFile(gctx, def, filepath.Join(dir, def.Name+".bson"))
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &Stats{Entities: make(map[string]int, len(defs)), Duration: time.Since(start)}
	for i, def := range defs {
		stats.Entities[def.Name] = counts[i]
	}
	x.logger.Info("Export complete",
		zap.String("dir", dir),
		zap.Int("types", len(defs)),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (x *Exporter) writeSchema(dir string, defs []*model.EntityDefinition) error {
	var indexes []*model.EntityIndex
	for _, def := range defs {
		ixs, err := x.src.EntityIndexes(def.Name)
		if err != nil {
			return err
		}
		indexes = append(indexes, ixs...)
	}
	data, err := schemafile.FromSchema(defs, indexes).Marshal()
	if err != nil {
		return fmt.Errorf("failed to render schema: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, SchemaFileName), data, 0644)
}

func (x *Exporter) exportFile(ctx context.Context, def *model.EntityDefinition, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	n, err := x.ExportType(ctx, def.Name, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ExportType writes every entity of one type to w in id order and returns
// the number written.
func (x *Exporter) ExportType(ctx context.Context, entity string, w io.Writer) (int, error) {
	var after index.Token
	written := 0
	for {
		q, err := query.New(entity).PageSize(x.cfg.PageSize).CacheResults(false).After(after).Ret()
		if err != nil {
			return written, err
		}
		res, err := x.src.ExecuteQuery(ctx, q)
		if err != nil {
			return written, err
		}
		for _, e := range res.Entities {
			data, err := bson.Marshal(Document(e))
			if err != nil {
				return written, errors.InternalError(fmt.Sprintf("failed to encode %s", e.Ref()), err)
			}
			if _, err := w.Write(data); err != nil {
				return written, err
			}
			written++
		}
		if res.Next.IsZero() {
			break
		}
		after = res.Next
	}

	x.logger.Debug("Exported entity type", zap.String("entity", entity), zap.Int("count", written))
	return written, nil
}

// Document maps an entity to its BSON form. References become DBRef-style
// {$ref, $id} sub-documents.
func Document(e *model.Entity) bson.D {
	doc := bson.D{{Key: "_id", Value: e.ID}, {Key: "_type", Value: e.Type}}
	for _, name := range e.AttributeNames() {
		doc = append(doc, bson.E{Key: name, Value: bsonValue(e.Attribute(name))})
	}
	return doc
}

func bsonValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case *model.Entity:
		if tv == nil {
			return nil
		}
		return bson.D{{Key: "$ref", Value: tv.Type}, {Key: "$id", Value: tv.ID}}
	case []*model.Entity:
		out := make(bson.A, len(tv))
		for i, e := range tv {
			out[i] = bsonValue(e)
		}
		return out
	case float32:
		return float64(tv)
	case []float32:
		out := make(bson.A, len(tv))
		for i, f := range tv {
			out[i] = float64(f)
		}
		return out
	}
	return v
}

// ReadDocuments decodes a stream of concatenated BSON documents.
func ReadDocuments(r io.Reader, fn func(bson.M) error) error {
	br := bufio.NewReader(r)
	var header [4]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.CorruptedData("truncated document header", err)
		}
		size := binary.LittleEndian.Uint32(header[:])
		if size < 5 {
			return errors.CorruptedData(fmt.Sprintf("invalid document size %d", size), nil)
		}
		buf := make([]byte, size)
		copy(buf, header[:])
		if _, err := io.ReadFull(br, buf[4:]); err != nil {
			return errors.CorruptedData("truncated document", err)
		}
		var doc bson.M
		if err := bson.Unmarshal(buf, &doc); err != nil {
			return errors.CorruptedData("undecodable document", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}
