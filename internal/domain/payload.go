package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload 表示一个待投递的邮件工作单元。
//
// Payload 是组装与投递流水线的唯一输入：同步发送接口直接消费它，
// 队列模式则把它原样持久化到 spool 目录，由投递循环延后消费。
type Payload struct {
	To                 []string          `json:"to"`
	Cc                 []string          `json:"cc,omitempty"`
	Bcc                []string          `json:"bcc,omitempty"`
	Subject            string            `json:"subject"`
	Body               string            `json:"body"`
	HTMLBody           string            `json:"html_body,omitempty"`
	BodyTemplate       string            `json:"body_template,omitempty"`
	TemplateVariables  map[string]string `json:"template_variables,omitempty"`
	SignatureTemplate  string            `json:"signature_template,omitempty"`
	SignatureVariables map[string]string `json:"signature_variables,omitempty"`
	Attachments        []string          `json:"attachments,omitempty"`
	InlineImages       []InlineImage     `json:"inline_images,omitempty"`
	CalendarEvent      *CalendarEvent    `json:"calendar_event,omitempty"`
	Diagnostics        bool              `json:"diagnostics,omitempty"`
}

// Validate 在任何文件或网络 I/O 之前校验载荷。
//
// 校验只拦截结构性错误；模板、附件等文件是否存在由组装阶段检查。
func (p *Payload) Validate() error {
	if len(p.To) == 0 {
		return &ValidationError{Reason: "at least one recipient is required in 'to'"}
	}
	for _, addr := range p.To {
		if strings.TrimSpace(addr) == "" {
			return &ValidationError{Reason: "recipient address in 'to' must not be blank"}
		}
		if err := ValidateAddress(addr); err != nil {
			return err
		}
	}
	if p.CalendarEvent != nil {
		if err := p.CalendarEvent.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Recipients 返回去重后的完整信封收件人列表（to + cc + bcc），保持首次出现顺序。
func (p *Payload) Recipients() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(p.To)+len(p.Cc)+len(p.Bcc))
	for _, list := range [][]string{p.To, p.Cc, p.Bcc} {
		for _, addr := range list {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// InlineImage 描述一张通过 Content-ID 引用嵌入 HTML 正文的图片。
type InlineImage struct {
	Path string `json:"path"`
	// CID 为空时自动生成。
	CID string `json:"cid,omitempty"`
}

// InlineImageResult 记录实际嵌入的内联图片元数据。
type InlineImageResult struct {
	CID      string `json:"cid"`
	Filename string `json:"filename"`
}

// Attendee 表示日历邀请的参会人。
type Attendee struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CalendarEvent 表示要生成为 .ics 附件的会议邀请。
type CalendarEvent struct {
	Summary        string     `json:"summary"`
	Start          EventTime  `json:"start"`
	End            EventTime  `json:"end"`
	Description    string     `json:"description,omitempty"`
	Location       string     `json:"location,omitempty"`
	OrganizerEmail string     `json:"organizer_email,omitempty"`
	Attendees      []Attendee `json:"attendees,omitempty"`
	// Timezone 是 IANA 时区名，仅作用于不带时区信息的时间值。
	Timezone string `json:"timezone,omitempty"`
	// ReminderMinutes 为 nil 时默认提前 15 分钟提醒；>= 0 时生成一条 VALARM。
	ReminderMinutes *int `json:"reminder_minutes,omitempty"`
	// UID 为空时自动生成全局唯一标识。
	UID string `json:"uid,omitempty"`
}

// Validate 校验事件时间范围。
func (e *CalendarEvent) Validate() error {
	start, err := e.Start.In(e.Timezone)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid calendar timezone %q", e.Timezone)}
	}
	end, err := e.End.In(e.Timezone)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid calendar timezone %q", e.Timezone)}
	}
	if !end.After(start) {
		return &ValidationError{Reason: "calendar event 'end' must be after 'start'"}
	}
	return nil
}

// eventTimeNaiveLayout 是不带时区信息的时间值的传输格式。
const eventTimeNaiveLayout = "2006-01-02T15:04:05"

// EventTime 是日历事件时间戳的 JSON 表示。
//
// 它区分两种输入：带时区偏移的 RFC 3339 值，以及"裸"时间值
// （如 "2026-09-01T10:00:00"）。后者在生成邀请时按事件声明的时区解释，
// 缺省为 UTC。序列化时保持原有形式，保证入列再读出的载荷逐字段相等。
type EventTime struct {
	Time  time.Time
	Naive bool
}

// UnmarshalJSON 解析 RFC 3339 或裸时间值。
func (t *EventTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		t.Time = parsed
		t.Naive = false
		return nil
	}
	parsed, err := time.Parse(eventTimeNaiveLayout, raw)
	if err != nil {
		return fmt.Errorf("unsupported datetime value %q", raw)
	}
	t.Time = parsed
	t.Naive = true
	return nil
}

// MarshalJSON 按输入形式写回时间值。
func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.Naive {
		return json.Marshal(t.Time.Format(eventTimeNaiveLayout))
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// In 返回应用了时区后的时间：裸时间按 name 指定的时区（为空则 UTC）解释，
// 带时区的时间原样返回。
func (t EventTime) In(name string) (time.Time, error) {
	if !t.Naive {
		return t.Time, nil
	}
	loc := time.UTC
	if name != "" {
		var err error
		loc, err = time.LoadLocation(name)
		if err != nil {
			return time.Time{}, err
		}
	}
	wall := t.Time
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc), nil
}

// Diagnostics 记录一次 SMTP 会话的诊断信息（按需采集）。
type Diagnostics struct {
	Server     string            `json:"server"`
	Port       int               `json:"port"`
	TLS        string            `json:"tls"` // "implicit" 或 "starttls"
	Extensions map[string]string `json:"esmtp_features,omitempty"`
	Noop       string            `json:"noop,omitempty"`
}

// DeliveryResult 是一次投递尝试的结构化结果。
type DeliveryResult struct {
	Accepted       []string            `json:"accepted"`
	Refused        map[string]string   `json:"refused"`
	Attachments    []string            `json:"attachments,omitempty"`
	InlineImages   []InlineImageResult `json:"inline_images,omitempty"`
	TemplateUsed   string              `json:"template_used,omitempty"`
	SignatureUsed  string              `json:"signature_used,omitempty"`
	CalendarInvite string              `json:"calendar_invite,omitempty"`
	Diagnostics    *Diagnostics        `json:"smtp_diagnostics,omitempty"`
}
