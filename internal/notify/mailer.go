// Package notify 实现揭示事件的邮件通知。
package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
)

// sendTimeout 单封邮件的投递超时。
// SMTP 客户端自身不设全局超时，超过该时长即放弃等待。
const sendTimeout = 30 * time.Second

// Mailer 通过外部 SMTP 服务器发送揭示通知
//
// 纯文本邮件，不含封存留言。收件人是部署方配置的通知信箱：
// 服务只持有不透明的所有者标识，没有任何联系方式可查。
type Mailer struct {
	addr     string
	username string
	password string
	from     string
	to       string
	logger   *zap.Logger
}

// NewMailer 创建邮件通知器
func NewMailer(cfg *config.NotifyConfig, logger *zap.Logger) *Mailer {
	return &Mailer{
		addr:     cfg.SMTPAddr,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		to:       cfg.SMTPTo,
		logger:   logger,
	}
}

// NotifyReveal 发送一封揭示通知邮件
//
// 失败只记录日志：发件箱标记已经完成，邮件是尽力而为的旁路。
func (m *Mailer) NotifyReveal(ctx context.Context, capsule *domain.Capsule) {
	done := make(chan error, 1)
	go func() { done <- m.send(capsule) }()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Error("reveal mail failed",
				zap.String("capsule_id", capsule.ID),
				zap.Error(err))
			return
		}
		m.logger.Info("reveal mail sent",
			zap.String("capsule_id", capsule.ID),
			zap.String("to", m.to))
	case <-time.After(sendTimeout):
		m.logger.Error("reveal mail timed out",
			zap.String("capsule_id", capsule.ID),
			zap.String("addr", m.addr))
	case <-ctx.Done():
		m.logger.Warn("reveal mail abandoned on shutdown",
			zap.String("capsule_id", capsule.ID))
	}
}

func (m *Mailer) send(capsule *domain.Capsule) error {
	var auth sasl.Client
	if m.username != "" {
		auth = sasl.NewPlainClient("", m.username, m.password)
	}

	msg := composeRevealMail(m.from, m.to, capsule, time.Now())
	if err := smtp.SendMail(m.addr, auth, m.from, []string{m.to}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// composeRevealMail 构造纯文本通知邮件
func composeRevealMail(from, to string, capsule *domain.Capsule, now time.Time) []byte {
	subject := mime.QEncoding.Encode("utf-8", "Time capsule revealed: "+capsule.Title)

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "The capsule %q by %s reached its reveal time.\r\n", capsule.Title, capsule.Author)
	fmt.Fprintf(&b, "Reveal time: %s\r\n", capsule.RevealAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Capsule ID: %s\r\n", capsule.ID)
	return b.Bytes()
}
