package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// errStopStream is returned by an SSE callback to end the read loop cleanly
var errStopStream = errors.New("stop stream")

// readSSE calls fn for every complete server-sent event in r
func readSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data strings.Builder

	flush := func() error {
		if data.Len() == 0 {
			event = ""
			return nil
		}
		err := fn(event, data.String())
		event = ""
		data.Reset()
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// postJSON sends body to url and returns the open response. Non-2xx responses
// are drained and converted into a ProviderError.
func (p *BaseProvider) postJSON(ctx context.Context, url string, body interface{}, headers map[string]string, errorMessage func([]byte) string) (*http.Response, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(p.id, KindBadRequest, "failed to marshal request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewError(p.id, KindBadRequest, "failed to create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ClassifyTransportError(ctx, p.id, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		message := strings.TrimSpace(string(raw))
		if errorMessage != nil {
			if parsed := errorMessage(raw); parsed != "" {
				message = parsed
			}
		}
		return nil, HTTPError(p.id, resp.StatusCode, message)
	}

	return resp, nil
}
