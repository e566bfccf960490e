// Package snapshot exports the local note cache to S3-compatible storage.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/cryptox"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/google/uuid"
)

// Uploader is the subset of the S3 client the exporter needs.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source supplies the data to export.
type Source interface {
	GetAllNotes(ctx context.Context, userID string) ([]models.Note, error)
	PendingCount(ctx context.Context, userID string) (int, error)
}

// Snapshot is the exported document.
type Snapshot struct {
	UserID    string        `json:"user_id"`
	DeviceID  string        `json:"device_id"`
	CreatedAt time.Time     `json:"created_at"`
	Pending   int           `json:"pending"`
	Notes     []models.Note `json:"notes"`
}

type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client with static credentials. A non-empty
// Endpoint points it at an S3-compatible server such as MinIO.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(o.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
			opts.UsePathStyle = true
		}
	}), nil
}

type Exporter struct {
	src        Source
	up         Uploader
	bucket     string
	deviceID   string
	passphrase []byte
	logger     logging.Logger
	now        func() time.Time
}

func NewExporter(src Source, up Uploader, bucket, deviceID string, logger logging.Logger) *Exporter {
	return &Exporter{
		src:      src,
		up:       up,
		bucket:   bucket,
		deviceID: deviceID,
		logger:   logger.With("component", "snapshot"),
		now:      time.Now,
	}
}

// WithPassphrase makes the exporter upload sealed snapshots (see
// cryptox.SealJSON) instead of plain JSON.
func (e *Exporter) WithPassphrase(p string) *Exporter {
	if p != "" {
		e.passphrase = []byte(p)
	}
	return e
}

// StorageKey returns the object key for a snapshot taken at t.
func StorageKey(userID string, t time.Time) string {
	return fmt.Sprintf("snapshots/%s/%d/%02d/%02d/%s.json", userID, t.Year(), t.Month(), t.Day(), uuid.New())
}

// Export uploads the user's cached notes and returns the object key.
func (e *Exporter) Export(ctx context.Context, userID string) (string, error) {
	notes, err := e.src.GetAllNotes(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read notes: %w", err)
	}
	pending, err := e.src.PendingCount(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to count pending changes: %w", err)
	}

	snap := Snapshot{
		UserID:    userID,
		DeviceID:  e.deviceID,
		CreatedAt: e.now().UTC(),
		Pending:   pending,
		Notes:     notes,
	}
	if snap.Notes == nil {
		snap.Notes = []models.Note{}
	}
	body, err := e.encode(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := StorageKey(userID, snap.CreatedAt)
	_, err = e.up.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	e.logger.Info(ctx, "snapshot exported", "bucket", e.bucket, "key", key, "notes", len(notes),
		"pending", pending, "encrypted", e.passphrase != nil)
	return key, nil
}

func (e *Exporter) encode(snap Snapshot) ([]byte, error) {
	if e.passphrase == nil {
		return json.Marshal(snap)
	}
	sealed, err := cryptox.SealJSON(snap, e.passphrase)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealed)
}

// Decode reads an uploaded snapshot, opening it with passphrase when it was
// sealed.
func Decode(body []byte, passphrase string) (*Snapshot, error) {
	var sealed cryptox.Sealed
	if err := json.Unmarshal(body, &sealed); err == nil && sealed.Algorithm != "" {
		var snap Snapshot
		if err := cryptox.OpenJSON(&sealed, []byte(passphrase), &snap); err != nil {
			return nil, err
		}
		return &snap, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
