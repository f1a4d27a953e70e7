package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

// codec sorts map keys so equal record lists encode to identical bytes.
var codec = sonic.ConfigStd

func EncodeRecords(records []models.MatchRecord) ([]byte, error) {
	if records == nil {
		records = []models.MatchRecord{}
	}
	data, err := codec.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	return data, nil
}

func DecodeRecords(data []byte) ([]models.MatchRecord, error) {
	var out []models.MatchRecord
	if err := codec.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return out, nil
}

// Encode and Decode serve the other cached values (cycling summaries, sessions).
func Encode(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func Decode(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// GetJSON loads and decodes key into v. ok is false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := Decode(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key in one write.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
