package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// uploadFields are the form values sent with every file.
type uploadFields struct {
	Category string
	Location string
	Tags     string
}

// uploader posts files to the ingest endpoint.
type uploader struct {
	client   *http.Client
	endpoint string
	token    string
	fields   uploadFields
	logger   *zap.Logger
}

// uploadOutcome is the result for one file.
type uploadOutcome struct {
	Path string
	ID   string
	Err  error
}

type ingestEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		ID       string `json:"id"`
		Degraded bool   `json:"degraded"`
	} `json:"data"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func uploadCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one file or directory is required", 2)
	}
	logger := loggerFrom(c)

	files, err := collectFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return cli.Exit("no files found", 2)
	}

	u := &uploader{
		client:   &http.Client{Timeout: c.Duration("timeout")},
		endpoint: strings.TrimSuffix(c.String("server"), "/") + "/ingest",
		token:    c.String("token"),
		fields: uploadFields{
			Category: c.String("category"),
			Location: c.String("location"),
			Tags:     c.String("tags"),
		},
		logger: logger,
	}

	start := time.Now()
	outcomes, err := u.uploadAll(c.Context, files, c.Int("workers"))
	if err != nil {
		return err
	}

	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(c.App.Writer, "FAIL %s: %v\n", o.Path, o.Err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "OK   %s %s\n", o.Path, o.ID)
	}
	logger.Info("Upload finished",
		zap.Int("files", len(outcomes)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d uploads failed", failed, len(outcomes)), 1)
	}
	return nil
}

// collectFiles expands directories into the regular files beneath them,
// skipping dot-files and dot-directories. Results are sorted.
func collectFiles(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// uploadAll uploads files on a bounded worker pool and returns one outcome
// per file in input order.
func (u *uploader) uploadAll(ctx context.Context, files []string, workers int) ([]uploadOutcome, error) {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]uploadOutcome, len(files))

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(workers, func(arg any) {
		defer wg.Done()
		i := arg.(int)
		id, err := u.uploadFile(ctx, files[i])
		outcomes[i] = uploadOutcome{Path: files[i], ID: id, Err: err}
		if err != nil {
			u.logger.Debug("Upload failed", zap.String("path", files[i]), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upload pool: %w", err)
	}
	defer pool.Release()

	for i := range files {
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			outcomes[i] = uploadOutcome{Path: files[i], Err: err}
		}
	}
	wg.Wait()
	return outcomes, nil
}

// uploadFile posts one file and returns the new record id.
func (u *uploader) uploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{
		"category": u.fields.Category,
		"location": u.fields.Location,
		"tags":     u.fields.Tags,
	} {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": filepath.Base(path),
	}))
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		h.Set("Content-Type", mt)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var env ingestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("unexpected %s response", resp.Status)
	}
	if resp.StatusCode != http.StatusCreated {
		if env.Message != "" {
			return "", fmt.Errorf("%s: %s", env.Error, env.Message)
		}
		return "", fmt.Errorf("unexpected %s response", resp.Status)
	}
	if env.Data.Degraded {
		u.logger.Warn("Stored with the fallback vector index", zap.String("path", path))
	}
	return env.Data.ID, nil
}
