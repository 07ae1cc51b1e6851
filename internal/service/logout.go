package service

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"go.uber.org/zap"
)

// LogoutSession 即将被删除的会话
type LogoutSession struct {
	TicketGrantingTicket *model.TicketGrantingTicket
	Descendants          []string          // 全部后代 ID，包括 PGT 及其签发的 PT
	Services             map[string]string // 整棵票据树上的 ST / PT ID -> 服务
}

// NewLogoutSession 只包含 TGT 自身签发的 ST
func NewLogoutSession(tgt *model.TicketGrantingTicket) *LogoutSession {
	return &LogoutSession{
		TicketGrantingTicket: tgt,
		Descendants:          tgt.Descendants(),
		Services:             tgt.ServiceMap(),
	}
}

// LogoutNotifier 单点登出通知
// 在 TGT 被删除前调用，通知失败不会阻止票据删除
type LogoutNotifier interface {
	Notify(ctx context.Context, session *LogoutSession) error
}

// NoOpLogoutNotifier 不发送任何通知
type NoOpLogoutNotifier struct{}

// Notify 什么都不做
func (NoOpLogoutNotifier) Notify(context.Context, *LogoutSession) error {
	return nil
}

// LoggingLogoutNotifier 只记录日志的通知器
type LoggingLogoutNotifier struct {
	logger *zap.Logger
}

// NewLoggingLogoutNotifier 创建日志通知器
func NewLoggingLogoutNotifier(logger *zap.Logger) *LoggingLogoutNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingLogoutNotifier{logger: logger}
}

// Notify 记录会话终止
func (n *LoggingLogoutNotifier) Notify(_ context.Context, session *LogoutSession) error {
	tgt := session.TicketGrantingTicket
	n.logger.Info("会话终止",
		zap.String("tgt_id", tgt.TicketID()),
		zap.String("principal", tgt.Principal),
		zap.Strings("descendants", session.Descendants),
		zap.Int("services", len(session.Services)),
	)
	return nil
}

// HTTPLogoutNotifierConfig HTTP 登出通知配置
type HTTPLogoutNotifierConfig struct {
	Timeout    time.Duration // 单个请求超时，默认 5 秒
	SigningKey []byte        // 非空时附带 HS256 签名的 logout_token
	Issuer     string
	Client     *http.Client
	Clock      clock.Clock
	Logger     *zap.Logger
}

// HTTPLogoutNotifier 向会话中签发过 ST / PT 的每个服务发送后端登出请求
type HTTPLogoutNotifier struct {
	client     *http.Client
	signingKey []byte
	issuer     string
	clock      clock.Clock
	logger     *zap.Logger
}

// NewHTTPLogoutNotifier 创建 HTTP 登出通知器
func NewHTTPLogoutNotifier(cfg *HTTPLogoutNotifierConfig) *HTTPLogoutNotifier {
	if cfg == nil {
		cfg = &HTTPLogoutNotifierConfig{}
	}
	n := &HTTPLogoutNotifier{
		client:     cfg.Client,
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if n.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		n.client = &http.Client{Timeout: timeout}
	}
	if n.clock == nil {
		n.clock = clock.Real()
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	return n
}

// logoutRequest CAS 后端登出报文
type logoutRequest struct {
	XMLName      xml.Name `xml:"samlp:LogoutRequest"`
	SAMLP        string   `xml:"xmlns:samlp,attr"`
	SAML         string   `xml:"xmlns:saml,attr"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	NameID       string   `xml:"saml:NameID"`
	SessionIndex string   `xml:"samlp:SessionIndex"`
}

// logoutClaims logout_token 声明
type logoutClaims struct {
	SessionID string         `json:"sid"`
	Events    map[string]any `json:"events"`
	jwt.RegisteredClaims
}

const backChannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// Notify 每个服务只通知一次，以 ID 最小的 ST 作为 SessionIndex
// 单个服务失败不影响其他服务
func (n *HTTPLogoutNotifier) Notify(ctx context.Context, session *LogoutSession) error {
	tgt := session.TicketGrantingTicket
	services := session.Services
	ids := make([]string, 0, len(services))
	for id := range services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	notified := make(map[string]struct{}, len(ids))
	for _, stID := range ids {
		service := services[stID]
		if _, ok := notified[service]; ok {
			continue
		}
		notified[service] = struct{}{}

		if !strings.HasPrefix(service, "http://") && !strings.HasPrefix(service, "https://") {
			n.logger.Debug("跳过非 HTTP 服务的登出通知", zap.String("service", service))
			continue
		}
		if err := n.send(ctx, tgt, stID, service); err != nil {
			errs = append(errs, fmt.Errorf("通知 %s 失败: %w", service, err))
		}
	}
	return errors.Join(errs...)
}

func (n *HTTPLogoutNotifier) send(ctx context.Context, tgt *model.TicketGrantingTicket, stID, service string) error {
	now := n.clock.Now().UTC()

	body, err := xml.Marshal(logoutRequest{
		SAMLP:        "urn:oasis:names:tc:SAML:2.0:protocol",
		SAML:         "urn:oasis:names:tc:SAML:2.0:assertion",
		ID:           "LR-" + uuid.New().String(),
		Version:      "2.0",
		IssueInstant: now.Format(time.RFC3339),
		NameID:       tgt.Principal,
		SessionIndex: stID,
	})
	if err != nil {
		return fmt.Errorf("生成登出报文失败: %w", err)
	}

	form := url.Values{"logoutRequest": {string(body)}}
	if len(n.signingKey) > 0 {
		token, err := n.signLogoutToken(tgt, service, now)
		if err != nil {
			return err
		}
		form.Set("logout_token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, service, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("服务返回状态码 %d", resp.StatusCode)
	}
	return nil
}

func (n *HTTPLogoutNotifier) signLogoutToken(tgt *model.TicketGrantingTicket, service string, now time.Time) (string, error) {
	claims := logoutClaims{
		SessionID: tgt.TicketID(),
		Events:    map[string]any{backChannelLogoutEvent: map[string]any{}},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    n.issuer,
			Subject:   tgt.Principal,
			Audience:  jwt.ClaimStrings{service},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
			ID:        uuid.New().String(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.signingKey)
	if err != nil {
		return "", fmt.Errorf("签名 logout_token 失败: %w", err)
	}
	return token, nil
}
