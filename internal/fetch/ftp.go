package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
)

func init() {
	MustRegister(SchemeMetadata{
		Key:             "ftp",
		Description:     "remote mirror over ftp (passive mode)",
		MaxAttempts:     3,
		RequiresNetwork: true,
		Resumable:       true,
	})
}

// ftpConn 是 ftpOpener 用到的控制连接操作，*ftp.ServerConn 经 serverConn 包装后满足它。
type ftpConn interface {
	Login(user, password string) error
	RetrieveFrom(path string, offset uint64) (io.ReadCloser, error)
	Quit() error
}

type ftpDialer func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) RetrieveFrom(path string, offset uint64) (io.ReadCloser, error) {
	resp, err := c.RetrFrom(path, offset)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{conn}, nil
}

// ftpOpener 每次 Open 建立一条控制连接，Close 时一并 QUIT。代理设置不作用于 ftp。
type ftpOpener struct {
	session *Session
	logger  *logrus.Logger
	dial    ftpDialer
}

func (o *ftpOpener) Open(ctx context.Context, rawURL string, offset int64) (*Stream, error) {
	if err := o.session.EnsureNetwork(ctx); err != nil {
		return nil, fmt.Errorf("network precheck: %w", err)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, Permanent(err)
	}
	addr := parsed.Host
	if parsed.Port() == "" {
		addr = net.JoinHostPort(parsed.Hostname(), "21")
	}

	dial := o.dial
	if dial == nil {
		dial = dialFTP
	}
	fields := logging.FetchFields(rawURL, "ftp", 0)
	conn, err := dial(ctx, addr, o.session.Timeout())
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("ftp_connect_failed")
		return nil, err
	}

	user, pass := "anonymous", "anonymous@"
	if parsed.User != nil {
		user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		o.logger.WithFields(fields).WithError(err).Warn("ftp_login_failed")
		return nil, err
	}

	body, err := conn.RetrieveFrom(parsed.Path, uint64(offset))
	if err != nil {
		_ = conn.Quit()
		o.logger.WithFields(fields).WithError(err).Warn("ftp_retr_failed")
		return nil, err
	}
	return &Stream{Body: &ftpBody{body: body, conn: conn}, Offset: offset}, nil
}

// ftpBody 关闭数据连接后退出控制连接。
type ftpBody struct {
	body io.ReadCloser
	conn ftpConn
}

func (b *ftpBody) Read(p []byte) (int, error) {
	return b.body.Read(p)
}

func (b *ftpBody) Close() error {
	err := b.body.Close()
	if quitErr := b.conn.Quit(); err == nil {
		err = quitErr
	}
	return err
}
