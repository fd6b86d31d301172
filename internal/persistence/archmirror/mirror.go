// Package archmirror uploads rotated archive files to S3-compatible
// object storage. Uploads run off the tick path; a saturated queue
// drops files rather than stalling the simulation.
package archmirror

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigRegion    = "auto"
	sigService   = "s3"
)

type Stats struct {
	QueueDepth         int
	EnqueuedTotal      uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

type Mirror struct {
	endpoint  string
	bucket    string
	accessKey string
	secretKey string
	hc        *http.Client

	dataDir string
	prefix  string
	logger  *log.Logger

	jobs chan string
	wg   sync.WaitGroup

	enqueued      atomic.Uint64
	dropped       atomic.Uint64
	uploadOK      atomic.Uint64
	uploadFail    atomic.Uint64
	lastSuccessTS atomic.Int64
	lastErrorTS   atomic.Int64
}

// New builds a mirror. Object keys are the file paths relative to
// dataDir, optionally under prefix.
func New(endpoint, bucket, accessKey, secretKey, dataDir, prefix string, logger *log.Logger) (*Mirror, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.TrimSpace(bucket) == "" ||
		strings.TrimSpace(accessKey) == "" || strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("endpoint, bucket and credentials are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}

	m := &Mirror{
		endpoint:  strings.TrimRight(u.String(), "/"),
		bucket:    strings.TrimSpace(bucket),
		accessKey: strings.TrimSpace(accessKey),
		secretKey: strings.TrimSpace(secretKey),
		hc:        &http.Client{Timeout: 2 * time.Minute},
		dataDir:   dataDir,
		prefix:    strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:    logger,
		jobs:      make(chan string, 1024),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for p := range m.jobs {
			m.uploadOne(p)
		}
	}()
	return m, nil
}

// Enqueue schedules a file for upload. Never blocks the caller.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
	default:
		m.dropped.Add(1)
		m.printf("archive mirror drop local=%s reason=queue_full", localPath)
	}
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		EnqueuedTotal:      m.enqueued.Load(),
		DroppedTotal:       m.dropped.Load(),
		UploadSuccessTotal: m.uploadOK.Load(),
		UploadFailTotal:    m.uploadFail.Load(),
		LastSuccessUnix:    m.lastSuccessTS.Load(),
		LastErrorUnix:      m.lastErrorTS.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.printf("archive mirror skip local=%s err=%v", localPath, err)
		return
	}
	const maxAttempts = 4
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.putFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploadOK.Add(1)
			m.lastSuccessTS.Store(time.Now().UTC().Unix())
			return
		}
		if attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
	}
	m.uploadFail.Add(1)
	m.lastErrorTS.Store(time.Now().UTC().Unix())
	m.printf("archive mirror upload failed key=%s err=%v", key, err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s outside data dir %s", absLocal, absBase)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

// putFile issues a SigV4-signed PUT of the file body.
func (m *Mirror) putFile(ctx context.Context, objectKey, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	payloadHash := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	canonicalURI := "/" + m.bucket + "/" + escapePath(objectKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.endpoint+canonicalURI, f)
	if err != nil {
		return err
	}
	host := req.URL.Host
	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = st.Size()

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"
	canonicalRequest := strings.Join([]string{
		http.MethodPut, canonicalURI, "", canonicalHeaders, signedHeaders, payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, sigRegion, sigService, "aws4_request"}, "/")
	sum := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		sigAlgorithm, amzDate, scope, hex.EncodeToString(sum[:]),
	}, "\n")

	key := hmacSHA256([]byte("AWS4"+m.secretKey), []byte(dateStamp))
	key = hmacSHA256(key, []byte(sigRegion))
	key = hmacSHA256(key, []byte(sigService))
	key = hmacSHA256(key, []byte("aws4_request"))
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigAlgorithm, m.accessKey, scope, signedHeaders, signature))

	resp, err := m.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("put failed status=%d key=%s body=%s", resp.StatusCode, objectKey, strings.TrimSpace(string(body)))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
