package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/services"
	"mediaguard/internal/uploads"
)

// UserStore loads the recipient account.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*uploads.User, error)
}

// Transport delivers composed messages.
type Transport interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// Mailer composes and sends account emails.
type Mailer struct {
	users     UserStore
	signer    *Signer
	transport Transport
	limiter   *rate.Limiter
	from      string
	baseURL   string
	ttl       time.Duration
	graceDays int
	logger    *slog.Logger
}

// Options configures a Mailer. Transport defaults to SMTP from config, or a
// log-only transport when email is disabled.
type Options struct {
	Users     UserStore
	Transport Transport
	Logger    *slog.Logger
}

// New builds a Mailer from cfg.
func New(cfg *config.Config, opts Options) (*Mailer, error) {
	if opts.Users == nil {
		return nil, errors.New("email: user store is required")
	}
	signer, err := NewSigner(cfg.Email)
	if err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger(opts.Logger, "email")
	transport := opts.Transport
	if transport == nil {
		if cfg.Email.Enabled {
			transport, err = NewSMTP(cfg.Email)
			if err != nil {
				return nil, err
			}
		} else {
			transport = logTransport{logger: logger}
		}
	}
	perMinute := max(cfg.Email.PerMinute, 1)
	return &Mailer{
		users:     opts.Users,
		signer:    signer,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(perMinute/10, 1)),
		from:      cfg.Email.From,
		baseURL:   strings.TrimRight(cfg.API.PublicBaseURL, "/"),
		ttl:       signer.ttl,
		graceDays: cfg.Janitor.AccountGraceDays,
		logger:    logger,
	}, nil
}

// Signer exposes the token signer for verification endpoints.
func (m *Mailer) Signer() *Signer { return m.signer }

// Send delivers one email of kind to the account userID. A missing account
// is not an error: the job was queued for a user who is already gone.
func (m *Mailer) Send(ctx context.Context, kind Kind, userID int64) error {
	user, err := m.users.GetUser(ctx, userID)
	if errors.Is(err, services.ErrNotFound) {
		m.logger.Info("recipient no longer exists",
			logging.Int64("user_id", userID),
			logging.String("kind", string(kind)),
		)
		metrics.EmailsSent.WithLabelValues(string(kind), metrics.ResultSkipped).Inc()
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "email", "load user", fmt.Sprintf("user %d", userID), err)
	}
	if user.TokenIssuedAt.IsZero() {
		metrics.EmailsSent.WithLabelValues(string(kind), metrics.ResultFailed).Inc()
		return services.Wrap(services.ErrValidation, "email", "compose", fmt.Sprintf("user %d has no token issue time", userID), nil)
	}

	msg, err := m.compose(kind, user)
	if err != nil {
		metrics.EmailsSent.WithLabelValues(string(kind), metrics.ResultFailed).Inc()
		return err
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return services.Wrap(services.ErrTransient, "email", "rate limit", string(kind), err)
	}
	if err := m.transport.Send(ctx, msg); err != nil {
		metrics.EmailsSent.WithLabelValues(string(kind), metrics.ResultRetry).Inc()
		return services.Wrap(services.ErrTransient, "email", "send", string(kind), err)
	}
	metrics.EmailsSent.WithLabelValues(string(kind), metrics.ResultOK).Inc()
	m.logger.Info("email sent",
		logging.Int64("user_id", userID),
		logging.String("kind", string(kind)),
		logging.String("lang", Language(user.Lang)),
	)
	return nil
}

func (m *Mailer) compose(kind Kind, user *uploads.User) (*mail.Msg, error) {
	token, err := m.signer.Issue(kind, user.Email, user.TokenIssuedAt)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "sign token", string(kind), err)
	}
	subject := kind.Subject(user.Lang)
	link := m.baseURL + kind.path() + "?token=" + url.QueryEscape(token)
	text, html, err := render(kind, view{
		Subject:   subject,
		Link:      link,
		TTL:       m.ttl.String(),
		GraceDays: m.graceDays,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "render", string(kind), err)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "from", m.from, err)
	}
	if err := msg.To(user.Email); err != nil {
		return nil, services.Wrap(services.ErrValidation, "email", "to", "invalid recipient address", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}

// SMTP sends through a go-mail client.
type SMTP struct {
	client *mail.Client
}

// NewSMTP dials nothing; the connection is opened per send.
func NewSMTP(cfg config.Email) (*SMTP, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "email", "smtp", "smtp_host is required", nil)
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "smtp", "create client", err)
	}
	return &SMTP{client: client}, nil
}

// Send implements Transport.
func (s *SMTP) Send(ctx context.Context, msg *mail.Msg) error {
	return s.client.DialAndSendWithContext(ctx, msg)
}

type logTransport struct {
	logger *slog.Logger
}

func (t logTransport) Send(_ context.Context, msg *mail.Msg) error {
	to := msg.GetToString()
	t.logger.Info("email delivery disabled; message dropped",
		logging.Any("to", to),
		logging.Any("subject", msg.GetGenHeader(mail.HeaderSubject)),
	)
	return nil
}
