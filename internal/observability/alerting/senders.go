package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// SMTPEmailSender 通过 SMTP 直连投递告警邮件。
type SMTPEmailSender struct {
	Addr string
	From string
}

// Send 实现 EmailSender。
func (s *SMTPEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	if s == nil || s.Addr == "" || s.From == "" {
		return errors.New("SMTP 发送器未配置")
	}
	msg := []byte("From: " + s.From + "\r\n" +
		"To: " + strings.Join(to, ",") + "\r\n" +
		"Subject: " + subject + "\r\n\r\n" +
		content + "\r\n")
	return smtp.SendMail(s.Addr, nil, s.From, to, msg)
}

// DingTalkWebhookSender 将消息投递到钉钉机器人 Webhook。
type DingTalkWebhookSender struct {
	URL        string
	HTTPClient *http.Client
}

// Send 实现 DingTalkSender。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	if s == nil || s.URL == "" {
		return errors.New("钉钉 Webhook 未配置")
	}
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.HTTPClient, s.URL, payload)
}

// SlackWebhookSender 将消息投递到 Slack Incoming Webhook。
type SlackWebhookSender struct {
	URL        string
	HTTPClient *http.Client
}

// Send 实现 SlackSender。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	if s == nil || s.URL == "" {
		return errors.New("Slack Webhook 未配置")
	}
	payload := map[string]any{
		"channel": channel,
		"text":    content,
	}
	return postJSON(ctx, s.HTTPClient, s.URL, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警渠道返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
