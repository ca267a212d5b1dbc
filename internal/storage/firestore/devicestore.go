// Package firestore implements the device-token store on Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const devicesCollection = "apn_devices"

// DeviceStore implements dispatch.DeviceStore using Google Cloud Firestore.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Token     string    `firestore:"token"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Register upserts one token. The doc ID is a hash of the token to prevent
// duplicates and hot-spotting.
func (s *DeviceStore) Register(ctx context.Context, token string) error {
	record := deviceRecord{
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(token).Set(ctx, record)
	return err
}

func (s *DeviceStore) Unregister(ctx context.Context, token string) error {
	_, err := s.deviceRef(token).Delete(ctx)
	return err
}

// List returns every registered token.
func (s *DeviceStore) List(ctx context.Context) ([]string, error) {
	iter := s.client.Collection(devicesCollection).Documents(ctx)
	defer iter.Stop()

	tokens := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Safe to skip corrupt rows.
			continue
		}
		if record.Token != "" {
			tokens = append(tokens, record.Token)
		}
	}
	return tokens, nil
}

// DeleteBatch removes every token through one BulkWriter pass and reports
// how many deletes the backend acknowledged.
func (s *DeviceStore) DeleteBatch(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	writer := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(tokens))
	for _, token := range tokens {
		job, err := writer.Delete(s.deviceRef(token))
		if err != nil {
			writer.End()
			return 0, fmt.Errorf("failed to enqueue delete for token %s: %w", token, err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	deleted := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

func (s *DeviceStore) deviceRef(token string) *firestore.DocumentRef {
	return s.client.Collection(devicesCollection).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
