// Package batch enrols document images in bulk from a manifest file.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/extraction"
	"github.com/inspire-id/idvault/internal/store"
	"github.com/inspire-id/idvault/internal/vault"

	"go.uber.org/zap"
)

const errSkipped = "skipped"

// Vault is the slice of *vault.Service the processor needs.
type Vault interface {
	CreateIdentity(ctx context.Context, fingerprint string) (*store.Identity, error)
	AddDocument(ctx context.Context, fingerprint string, img extraction.Image, hint extraction.DocumentType) (*vault.AddResult, error)
}

type Processor struct {
	vault  Vault
	config Config
	logger *zap.Logger
}

type Config struct {
	MaxConcurrency   int
	Timeout          time.Duration
	RetryCount       int
	RetryDelay       time.Duration
	CreateIdentities bool
}

// InputItem is one manifest entry. Path is relative to the manifest.
type InputItem struct {
	ID              string `json:"id"`
	FingerprintHash string `json:"fingerprint_hash"`
	Path            string `json:"path"`
	DocumentType    string `json:"document_type,omitempty"`

	index int
}

// OutputItem never carries the fingerprint or document metadata.
type OutputItem struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	DocumentType string        `json:"document_type,omitempty"`
	DocumentID   string        `json:"document_id,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`

	index int
}

type Result struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Items     []OutputItem  `json:"items"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		Timeout:        60 * time.Second,
		RetryCount:     2,
		RetryDelay:     1 * time.Second,
	}
}

func NewProcessor(v Vault, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		vault:  v,
		config: cfg,
		logger: logger,
	}
}

// ProcessFile runs every item of the manifest at inputPath and, when
// outputPath is set, writes the result there.
func (p *Processor) ProcessFile(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	items, err := LoadManifest(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	result := p.Process(ctx, items)

	if outputPath != "" {
		if err := saveOutputFile(outputPath, result); err != nil {
			return result, fmt.Errorf("failed to save output file: %w", err)
		}
	}
	return result, nil
}

// Process runs items on the worker pool. Items come back in input order.
func (p *Processor) Process(ctx context.Context, items []InputItem) *Result {
	result := &Result{
		Total:     len(items),
		StartTime: time.Now(),
		Items:     make([]OutputItem, 0, len(items)),
	}

	itemsChan := make(chan InputItem, len(items))
	resultsChan := make(chan OutputItem, len(items))

	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, itemsChan, resultsChan)
		}()
	}

	for i, item := range items {
		item.index = i
		itemsChan <- item
	}
	close(itemsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for output := range resultsChan {
		result.Items = append(result.Items, output)
		switch {
		case output.Success:
			result.Success++
		case output.Error == errSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	sort.Slice(result.Items, func(i, j int) bool { return result.Items[i].index < result.Items[j].index })

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	p.logger.Info("Batch finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (p *Processor) worker(ctx context.Context, items <-chan InputItem, results chan<- OutputItem) {
	for item := range items {
		results <- p.processItem(ctx, item)
	}
}

func (p *Processor) processItem(ctx context.Context, item InputItem) OutputItem {
	output := OutputItem{
		ID:        item.ID,
		Path:      item.Path,
		Timestamp: time.Now(),
		index:     item.index,
	}

	hint, ok := validate(item)
	if !ok {
		output.Error = errSkipped
		return output
	}

	data, err := os.ReadFile(item.Path)
	if err != nil {
		output.Error = err.Error()
		return output
	}
	img := extraction.Image{Data: data, Filename: filepath.Base(item.Path)}

	if p.config.CreateIdentities {
		if _, err := p.vault.CreateIdentity(ctx, item.FingerprintHash); err != nil {
			output.Error = err.Error()
			return output
		}
	}

	var res *vault.AddResult
	for attempt := 0; attempt <= p.config.RetryCount; attempt++ {
		itemCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)

		start := time.Now()
		res, err = p.vault.AddDocument(itemCtx, item.FingerprintHash, img, hint)
		output.ResponseTime = time.Since(start)

		cancel()

		if err == nil || !retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < p.config.RetryCount {
			p.logger.Debug("Retrying item", zap.String("id", item.ID), zap.Int("attempt", attempt+1), zap.Error(err))
			time.Sleep(p.config.RetryDelay)
		}
	}

	if err != nil {
		output.Error = err.Error()
		return output
	}

	output.DocumentType = res.DocumentType
	output.DocumentID = res.ID
	output.Confidence = res.Confidence
	output.Success = true
	return output
}

func validate(item InputItem) (extraction.DocumentType, bool) {
	if strings.TrimSpace(item.FingerprintHash) == "" || strings.TrimSpace(item.Path) == "" {
		return "", false
	}
	if item.DocumentType == "" {
		return "", true
	}
	return extraction.ParseDocumentType(item.DocumentType)
}

// retryable reports whether another attempt could change the outcome.
func retryable(err error) bool {
	for _, permanent := range []error{
		apperrors.ErrIdentityNotFound,
		apperrors.ErrBadRequest,
		apperrors.ErrInvalidImage,
		apperrors.ErrBackendNotConfigured,
		apperrors.ErrDecryption,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// LoadManifest reads a JSON array, JSON lines or a whitespace separated
// text manifest and resolves item paths against the manifest's directory.
func LoadManifest(path string) ([]InputItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []InputItem
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".jsonl" {
		items, err = loadJSON(data)
	} else {
		items, err = loadText(bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range items {
		if items[i].Path != "" && !filepath.IsAbs(items[i].Path) {
			items[i].Path = filepath.Join(base, items[i].Path)
		}
	}
	return items, nil
}

func loadJSON(data []byte) ([]InputItem, error) {
	var items []InputItem
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
	} else {
		decoder := json.NewDecoder(bytes.NewReader(data))
		for decoder.More() {
			var item InputItem
			if err := decoder.Decode(&item); err != nil {
				return nil, fmt.Errorf("failed to decode JSON: %w", err)
			}
			items = append(items, item)
		}
	}

	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
	}
	return items, nil
}

func loadText(r io.Reader) ([]InputItem, error) {
	var items []InputItem
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		item := InputItem{ID: fmt.Sprintf("line-%d", lineNum)}
		fields := strings.Fields(line)
		item.FingerprintHash = fields[0]
		if len(fields) > 1 {
			item.Path = fields[1]
		}
		if len(fields) > 2 {
			item.DocumentType = fields[2]
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return items, nil
}

func saveOutputFile(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	for _, item := range result.Items {
		fmt.Fprintf(file, "=== %s ===\n", item.ID)
		fmt.Fprintf(file, "Path: %s\n", item.Path)
		if item.Success {
			fmt.Fprintf(file, "Document: %s %s (confidence %.2f)\n", item.DocumentType, item.DocumentID, item.Confidence)
		}
		if item.Error != "" {
			fmt.Fprintf(file, "Error: %s\n", item.Error)
		}
		fmt.Fprintf(file, "Time: %v\n\n", item.ResponseTime)
	}
	return nil
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Import Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Success:   %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration))
	return sb.String()
}

func (r *Result) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
