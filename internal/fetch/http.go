package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
)

func init() {
	for _, key := range []string{"http", "https"} {
		MustRegister(SchemeMetadata{
			Key:             key,
			Description:     "remote mirror over " + key,
			MaxAttempts:     3,
			RequiresNetwork: true,
			Resumable:       true,
		})
	}
}

type httpOpener struct {
	session *Session
	logger  *logrus.Logger
}

func (o *httpOpener) Open(ctx context.Context, rawURL string, offset int64) (*Stream, error) {
	if err := o.session.EnsureNetwork(ctx); err != nil {
		return nil, fmt.Errorf("network precheck: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	fields := logging.FetchFields(rawURL, req.URL.Scheme, 0)
	resp, err := o.session.Client().Do(req)
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("http_connect_failed")
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return &Stream{Body: resp.Body, Offset: offset, Length: resp.ContentLength}, nil
	case resp.StatusCode == http.StatusOK:
		return &Stream{Body: resp.Body, Offset: 0, Length: resp.ContentLength}, nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// 本地分片已经覆盖整个文件，返回空尾部让下载循环直接进入校验。
		resp.Body.Close()
		return &Stream{Body: io.NopCloser(strings.NewReader("")), Offset: offset}, nil
	}

	statusErr := &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	fields["status"] = resp.StatusCode
	if resp.Request != nil && resp.Request.URL != nil && resp.Request.URL.String() != req.URL.String() {
		statusErr.RedirectedTo = resp.Request.URL.String()
		fields["redirected_to"] = logging.RedactURL(statusErr.RedirectedTo)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	o.logger.WithFields(fields).Warn("http_status_error")
	return nil, statusErr
}
