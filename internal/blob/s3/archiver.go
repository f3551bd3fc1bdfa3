package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartWriter is implemented by Writer; other BlobWriters always get a
// single Put.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// SettlementArchiver writes each settlement as a JSONL object: the first line
// is the settlement summary, every following line one payout.
//
//	settlements/2025/01/{pollID}.jsonl
type SettlementArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewSettlementArchiver creates a SettlementArchiver. reader may be nil, in
// which case existing objects are overwritten and LoadSettlement fails.
func NewSettlementArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *SettlementArchiver {
	return &SettlementArchiver{writer: writer, reader: reader, audit: audit}
}

// SettlementPath returns the object key of a poll's settlement.
func SettlementPath(pollID string, resolvedAt time.Time) string {
	return fmt.Sprintf("settlements/%s/%s.jsonl", resolvedAt.UTC().Format("2006/01"), pollID)
}

// settlementHeader is the first JSONL line; payouts follow on their own lines.
type settlementHeader struct {
	domain.Settlement
	Payouts []domain.Payout `json:"payouts,omitempty"`
}

// ArchiveSettlement uploads s and records the upload in the audit log. An
// object already present at the settlement's path is left untouched.
func (a *SettlementArchiver) ArchiveSettlement(ctx context.Context, s domain.Settlement) (string, error) {
	path := SettlementPath(s.PollID, s.ResolvedAt)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive settlement %s: %w", s.PollID, err)
		}
		if exists {
			return path, nil
		}
	}

	buf, err := marshalSettlement(s)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %s marshal: %w", s.PollID, err)
	}

	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) >= minPartSize {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %s upload: %w", s.PollID, err)
	}

	if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
		"path":    path,
		"poll_id": s.PollID,
		"payouts": len(s.Payouts),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive settlement %s audit log: %w", s.PollID, err)
	}
	return path, nil
}

// LoadSettlement reads back an archived settlement.
func (a *SettlementArchiver) LoadSettlement(ctx context.Context, pollID string, resolvedAt time.Time) (domain.Settlement, error) {
	if a.reader == nil {
		return domain.Settlement{}, errors.New("s3blob: load settlement: no reader configured")
	}
	body, err := a.reader.Get(ctx, SettlementPath(pollID, resolvedAt))
	if err != nil {
		return domain.Settlement{}, err
	}
	defer body.Close()

	s, err := unmarshalSettlement(body)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("s3blob: load settlement %s: %w", pollID, err)
	}
	return s, nil
}

func marshalSettlement(s domain.Settlement) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	header := settlementHeader{Settlement: s}
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("jsonl encode header: %w", err)
	}
	for i, p := range s.Payouts {
		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("jsonl encode payout %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalSettlement(r io.Reader) (domain.Settlement, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return domain.Settlement{}, err
		}
		return domain.Settlement{}, errors.New("empty settlement object")
	}
	var header settlementHeader
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return domain.Settlement{}, fmt.Errorf("decode header: %w", err)
	}

	s := header.Settlement
	s.Payouts = nil
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var p domain.Payout
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			return domain.Settlement{}, fmt.Errorf("decode payout %d: %w", len(s.Payouts), err)
		}
		s.Payouts = append(s.Payouts, p)
	}
	return s, sc.Err()
}
