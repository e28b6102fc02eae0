package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/core"
	"github.com/brandon/mailsync/internal/remote"
)

// commandTimeout bounds every IMAP command
const commandTimeout = 2 * time.Minute

// IMAPClient is one authenticated IMAP connection of an account. It
// implements remote.Store; its folders share the connection and select
// their mailbox on demand.
type IMAPClient struct {
	config *config.AccountConfig
	logger *logrus.Logger

	mu       sync.Mutex
	client   *client.Client
	selected *imapFolder
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		logger: logger,
	}
}

// Connect establishes a connection to the IMAP server
func (c *IMAPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	addr := net.JoinHostPort(c.config.IMAPHost, fmt.Sprint(c.config.IMAPPort))
	dialer := &net.Dialer{Timeout: commandTimeout}

	var cl *client.Client
	var err error
	if c.config.IMAPPort == 143 {
		cl, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			err = cl.StartTLS(&tls.Config{ServerName: c.config.IMAPHost, MinVersion: tls.VersionTLS12})
		}
	} else {
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: c.config.IMAPHost,
			MinVersion: tls.VersionTLS12,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	cl.Timeout = commandTimeout

	if err := cl.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).WithField("account", c.config.Name).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", translate(err))
	}

	c.client = cl
	c.selected = nil
	c.logger.WithField("account", c.config.Name).Info("Connected to IMAP server")
	return nil
}

// Close logs out and drops the connection
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	c.selected = nil
	return err
}

// Connected reports whether the connection is usable
func (c *IMAPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected()
}

func (c *IMAPClient) connected() bool {
	if c.client == nil {
		return false
	}
	select {
	case <-c.client.LoggedOut():
		return false
	default:
		return true
	}
}

// do runs fn on the connection and translates failures. Cancelling ctx
// terminates the connection so a command blocked on the network returns.
func (c *IMAPClient) do(ctx context.Context, fn func(cl *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.connected() {
		return fmt.Errorf("%w: not connected", remote.ErrFolderClosed)
	}
	cl := c.client
	stop := context.AfterFunc(ctx, func() {
		c.logger.Debug("Terminating IMAP connection")
		cl.Terminate() //nolint:errcheck
	})
	defer stop()

	err := fn(cl)
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		return fmt.Errorf("%w: %v", remote.ErrFolderClosed, ctxErr)
	}
	return translate(err)
}

// HasCapability implements remote.Store
func (c *IMAPClient) HasCapability(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected() {
		return false
	}
	ok, err := c.client.Support(name)
	return err == nil && ok
}

// Folder implements remote.Store
func (c *IMAPClient) Folder(name string) remote.Folder {
	return &imapFolder{c: c, name: name}
}

// ListFolders implements remote.Store
func (c *IMAPClient) ListFolders(ctx context.Context) ([]remote.FolderInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var folders []remote.FolderInfo
	err := c.do(ctx, func(cl *client.Client) error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- cl.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			folders = append(folders, remote.FolderInfo{
				Name:       m.Name,
				Attributes: m.Attributes,
				Delimiter:  m.Delimiter,
			})
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// CreateFolder implements remote.Store
func (c *IMAPClient) CreateFolder(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.do(ctx, func(cl *client.Client) error {
		if err := cl.Create(name); err != nil {
			return err
		}
		return cl.Subscribe(name)
	})
	if err != nil {
		return fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	return nil
}

// DeleteFolder implements remote.Store
func (c *IMAPClient) DeleteFolder(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected != nil && c.selected.name == name {
		c.selected = nil
	}
	err := c.do(ctx, func(cl *client.Client) error {
		return cl.Delete(name)
	})
	if err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", name, err)
	}
	return nil
}

// translate maps connection and server failures onto the error kinds the
// sync engine distinguishes
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, client.ErrNotLoggedIn), errors.Is(err, client.ErrAlreadyLoggedOut),
		errors.Is(err, client.ErrNoMailboxSelected), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", remote.ErrFolderClosed, err)
	}

	var status *imap.ErrStatusResp
	if errors.As(err, &status) && status.Resp != nil {
		if status.Resp.Code == imap.CodeAlert {
			return &core.AlertError{Message: status.Resp.Info}
		}
		if status.Resp.Code == "NONEXISTENT" || strings.Contains(strings.ToLower(status.Resp.Info), "not exist") {
			return fmt.Errorf("%w: %s", remote.ErrFolderNotFound, status.Resp.Info)
		}
	}
	return err
}
