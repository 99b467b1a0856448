package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const imageColumns = `id, person_id, seq, original_path, face_path, embedding, tier, created_at, evicted_by`

// purgeHiddenQuery deletes the rows hidden by any of $1 and the rows those
// hid in turn.
const purgeHiddenQuery = `
	WITH RECURSIVE hidden AS (
		SELECT id FROM face_images WHERE evicted_by = ANY($1)
		UNION
		SELECT f.id FROM face_images f JOIN hidden h ON f.evicted_by = h.id
	)
	DELETE FROM face_images WHERE id IN (SELECT id FROM hidden)
	RETURNING ` + imageColumns

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// GalleryRepository provides PostgreSQL-backed person and face image storage.
type GalleryRepository struct {
	pool *Pool
}

// NewGalleryRepository creates a new PostgreSQL gallery repository.
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetPerson returns a person by ID.
func (r *GalleryRepository) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	var p database.Person
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, nickname, created_at FROM persons WHERE id = $1", id,
	).Scan(&p.ID, &p.Name, &p.Nickname, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: person %d", faceerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return &p, nil
}

// PersonNameExists checks whether a slug is taken.
func (r *GalleryRepository) PersonNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM persons WHERE name = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check person name: %w", err)
	}
	return exists, nil
}

// ListPersons returns persons ordered by ID with active image counts.
func (r *GalleryRepository) ListPersons(ctx context.Context) ([]database.PersonSummary, error) {
	query := `
		SELECT p.id, p.name, p.nickname, p.created_at, COUNT(f.id)
		FROM persons p
		LEFT JOIN face_images f ON f.person_id = p.id AND f.evicted_by IS NULL
		GROUP BY p.id
		ORDER BY p.id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var out []database.PersonSummary
	for rows.Next() {
		var s database.PersonSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Nickname, &s.CreatedAt, &s.ImageCount); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return out, nil
}

// GetImage returns an active face image.
func (r *GalleryRepository) GetImage(ctx context.Context, id int64) (*database.FaceImage, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+imageColumns+" FROM face_images WHERE id = $1 AND evicted_by IS NULL", id)
	img, err := scanImageRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: image %d", faceerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// FindImage returns a face image, hidden or not.
func (r *GalleryRepository) FindImage(ctx context.Context, id int64) (*database.FaceImage, error) {
	img, err := scanImageRow(r.pool.QueryRow(ctx, "SELECT "+imageColumns+" FROM face_images WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: image %d", faceerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ListHiddenImages returns every reversibly evicted image.
func (r *GalleryRepository) ListHiddenImages(ctx context.Context) ([]database.FaceImage, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+imageColumns+" FROM face_images WHERE evicted_by IS NOT NULL ORDER BY person_id, seq")
	if err != nil {
		return nil, fmt.Errorf("query hidden images: %w", err)
	}
	return scanImages(rows)
}

// ListImages returns a person's active images in insertion order.
func (r *GalleryRepository) ListImages(ctx context.Context, personID int64) ([]database.FaceImage, error) {
	return listActiveImages(ctx, r.pool.DB(), personID)
}

// GetGallery reads every person and active image inside one repeatable-read transaction.
func (r *GalleryRepository) GetGallery(ctx context.Context) ([]database.PersonImages, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id, name, nickname, created_at FROM persons ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	var gallery []database.PersonImages
	index := make(map[int64]int)
	for rows.Next() {
		var p database.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Nickname, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan person: %w", err)
		}
		index[p.ID] = len(gallery)
		gallery = append(gallery, database.PersonImages{Person: p})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}

	rows, err = tx.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM face_images WHERE evicted_by IS NULL ORDER BY person_id, seq")
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	images, err := scanImages(rows)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		if i, ok := index[img.PersonID]; ok {
			gallery[i].Images = append(gallery[i].Images, img)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return gallery, nil
}

// CreatePerson inserts a person.
func (r *GalleryRepository) CreatePerson(ctx context.Context, p *database.Person) error {
	err := r.pool.QueryRow(ctx,
		"INSERT INTO persons (name, nickname) VALUES ($1, $2) RETURNING id, created_at",
		p.Name, p.Nickname,
	).Scan(&p.ID, &p.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: person %q already exists", faceerr.ErrInvalidInput, p.Name)
	}
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

// UpdateNickname changes a person's nickname.
func (r *GalleryRepository) UpdateNickname(ctx context.Context, id int64, nickname string) error {
	res, err := r.pool.Exec(ctx, "UPDATE persons SET nickname = $2 WHERE id = $1", id, nickname)
	if err != nil {
		return fmt.Errorf("update nickname: %w", err)
	}
	return expectOneRow(res, "person", id)
}

// DeletePerson removes a person and every image row.
func (r *GalleryRepository) DeletePerson(ctx context.Context, id int64) ([]database.FaceImage, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"DELETE FROM face_images WHERE person_id = $1 RETURNING "+imageColumns, id)
	if err != nil {
		return nil, fmt.Errorf("delete person images: %w", err)
	}
	removed, err := scanImages(rows)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM persons WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("delete person: %w", err)
	}
	if err := expectOneRow(res, "person", id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit person delete: %w", err)
	}
	return removed, nil
}

// AddFaceImage inserts an image and enforces the per-person cap in one transaction.
// The person row is locked so concurrent enrollments for the same person serialize.
func (r *GalleryRepository) AddFaceImage(
	ctx context.Context, img *database.FaceImage, maxImages int, reversible bool,
) ([]database.FaceImage, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM persons WHERE id = $1 FOR UPDATE", img.PersonID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: person %d", faceerr.ErrNotFound, img.PersonID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock person: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO face_images (person_id, original_path, face_path, embedding, tier)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, seq, created_at`,
		img.PersonID, img.OriginalPath, img.FacePath, pgvector.NewVector(img.Embedding), img.Tier,
	).Scan(&img.ID, &img.Seq, &img.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert face image: %w", err)
	}
	img.EvictedBy = 0

	var evicted []database.FaceImage
	if maxImages > 0 {
		active, err := listActiveImages(ctx, tx, img.PersonID)
		if err != nil {
			return nil, err
		}
		if excess := len(active) - maxImages; excess > 0 {
			evicted = active[:excess]
			if err := evictRows(ctx, tx, evicted, img.ID, reversible); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return evicted, nil
}

// evictRows hides or deletes rows.
func evictRows(ctx context.Context, tx *sql.Tx, rows []database.FaceImage, by int64, reversible bool) error {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	var err error
	if reversible {
		_, err = tx.ExecContext(ctx, "UPDATE face_images SET evicted_by = $2 WHERE id = ANY($1)", pq.Array(ids), by)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM face_images WHERE id = ANY($1)", pq.Array(ids))
	}
	if err != nil {
		return fmt.Errorf("evict images: %w", err)
	}
	return nil
}

// EvictOldest deletes a person's count oldest active images.
func (r *GalleryRepository) EvictOldest(ctx context.Context, personID int64, count int) ([]database.FaceImage, error) {
	if count <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		DELETE FROM face_images WHERE id IN (
			SELECT id FROM face_images
			WHERE person_id = $1 AND evicted_by IS NULL
			ORDER BY seq
			LIMIT $2
		)
		RETURNING `+imageColumns, personID, count)
	if err != nil {
		return nil, fmt.Errorf("evict oldest: %w", err)
	}
	evicted, err := scanImages(rows)
	if err != nil {
		return nil, err
	}
	sortBySeq(evicted)
	return evicted, nil
}

// DeleteImage removes an active image and every row it hid, transitively.
func (r *GalleryRepository) DeleteImage(ctx context.Context, id int64) ([]database.FaceImage, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	img, err := scanImageRow(tx.QueryRowContext(ctx,
		"DELETE FROM face_images WHERE id = $1 AND evicted_by IS NULL RETURNING "+imageColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: image %d", faceerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, purgeHiddenQuery, pq.Array([]int64{id}))
	if err != nil {
		return nil, fmt.Errorf("purge hidden images: %w", err)
	}
	hidden, err := scanImages(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit image delete: %w", err)
	}
	sortBySeq(hidden)
	return append([]database.FaceImage{img}, hidden...), nil
}

// RevertEnrollment removes an image. The rows it evicted are restored when
// it was active, or handed to the image that hid it otherwise.
func (r *GalleryRepository) RevertEnrollment(
	ctx context.Context, id int64,
) (*database.FaceImage, []database.FaceImage, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	img, err := scanImageRow(tx.QueryRowContext(ctx,
		"DELETE FROM face_images WHERE id = $1 RETURNING "+imageColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: image %d", faceerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	var restored []database.FaceImage
	if img.EvictedBy != 0 {
		_, err = tx.ExecContext(ctx, "UPDATE face_images SET evicted_by = $2 WHERE evicted_by = $1", id, img.EvictedBy)
		if err != nil {
			return nil, nil, fmt.Errorf("re-parent evicted images: %w", err)
		}
	} else {
		rows, err := tx.QueryContext(ctx,
			"UPDATE face_images SET evicted_by = NULL WHERE evicted_by = $1 RETURNING "+imageColumns, id)
		if err != nil {
			return nil, nil, fmt.Errorf("restore evicted images: %w", err)
		}
		if restored, err = scanImages(rows); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit revert: %w", err)
	}
	sortBySeq(restored)
	return &img, restored, nil
}

// PurgeEvicted deletes rows hidden by any of the given images, transitively.
func (r *GalleryRepository) PurgeEvicted(ctx context.Context, byImageIDs []int64) ([]database.FaceImage, error) {
	if len(byImageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, purgeHiddenQuery, pq.Array(byImageIDs))
	if err != nil {
		return nil, fmt.Errorf("purge evicted: %w", err)
	}
	return scanImages(rows)
}

// ReplaceEmbedding overwrites an image's embedding, hidden or not.
func (r *GalleryRepository) ReplaceEmbedding(ctx context.Context, imageID int64, embedding []float32, tier string) error {
	res, err := r.pool.Exec(ctx,
		"UPDATE face_images SET embedding = $2, tier = $3 WHERE id = $1",
		imageID, pgvector.NewVector(embedding), tier)
	if err != nil {
		return fmt.Errorf("replace embedding: %w", err)
	}
	return expectOneRow(res, "image", imageID)
}

// listActiveImages returns a person's visible images ordered by seq.
func listActiveImages(ctx context.Context, q queryer, personID int64) ([]database.FaceImage, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM face_images WHERE person_id = $1 AND evicted_by IS NULL ORDER BY seq",
		personID)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	return scanImages(rows)
}

func expectOneRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", faceerr.ErrNotFound, kind, id)
	}
	return nil
}

// scanImageRow scans a single face image row. sql.ErrNoRows is returned unwrapped.
func scanImageRow(scanner interface{ Scan(...any) error }) (database.FaceImage, error) {
	var img database.FaceImage
	var vec pgvector.Vector
	var evictedBy sql.NullInt64

	err := scanner.Scan(
		&img.ID,
		&img.PersonID,
		&img.Seq,
		&img.OriginalPath,
		&img.FacePath,
		&vec,
		&img.Tier,
		&img.CreatedAt,
		&evictedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return img, err
	}
	if err != nil {
		return img, fmt.Errorf("scan face image: %w", err)
	}

	img.Embedding = vec.Slice()
	if evictedBy.Valid {
		img.EvictedBy = evictedBy.Int64
	}
	return img, nil
}

// scanImages drains and closes rows.
func scanImages(rows *sql.Rows) ([]database.FaceImage, error) {
	defer rows.Close()
	var images []database.FaceImage
	for rows.Next() {
		img, err := scanImageRow(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face images: %w", err)
	}
	return images, nil
}

func sortBySeq(images []database.FaceImage) {
	for i := 1; i < len(images); i++ {
		for j := i; j > 0 && images[j].Seq < images[j-1].Seq; j-- {
			images[j], images[j-1] = images[j-1], images[j]
		}
	}
}
