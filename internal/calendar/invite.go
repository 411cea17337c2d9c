// Package calendar 生成 RFC 5545 格式的会议邀请载荷。
//
// 输出的行集合与行顺序定义了与日历客户端的兼容性，必须保持稳定。
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailspool/backend/internal/domain"
)

const (
	prodID = "-//mailspool//EN"
	// uidDomain 是自动生成 UID 的后缀域。
	uidDomain = "mailspool"
	// defaultReminderMinutes 是未显式指定时的提醒提前量。
	defaultReminderMinutes = 15
)

// now 可在测试中替换，固定 DTSTAMP。
var now = time.Now

// formatDateTime 输出 RFC 5545 的 UTC 时间格式（无论输入时区一律转为 UTC）。
func formatDateTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// BuildInvite 根据事件构造一条 METHOD=REQUEST 的 VCALENDAR 文本。
//
// recipients 是 to+cc 去重后的地址列表，在事件未显式给出参会人时作为缺省。
// 返回值为附件文件名（{uid}.ics）与完整的 ics 字节。
func BuildInvite(event *domain.CalendarEvent, sender string, recipients []string) (string, []byte, error) {
	start, err := event.Start.In(event.Timezone)
	if err != nil {
		return "", nil, &domain.ValidationError{Reason: fmt.Sprintf("invalid calendar timezone %q", event.Timezone)}
	}
	end, err := event.End.In(event.Timezone)
	if err != nil {
		return "", nil, &domain.ValidationError{Reason: fmt.Sprintf("invalid calendar timezone %q", event.Timezone)}
	}
	if !end.After(start) {
		return "", nil, &domain.ValidationError{Reason: "calendar event 'end' must be after 'start'"}
	}

	organizer := event.OrganizerEmail
	if organizer == "" {
		organizer = sender
	}
	uid := event.UID
	if uid == "" {
		uid = fmt.Sprintf("%s@%s", uuid.NewString(), uidDomain)
	}

	attendees := event.Attendees
	if len(attendees) == 0 {
		attendees = make([]domain.Attendee, 0, len(recipients))
		for _, addr := range recipients {
			attendees = append(attendees, domain.Attendee{Email: strings.TrimSpace(addr)})
		}
	}

	// 参会人按邮箱地址大小写不敏感去重，保持首次出现顺序。
	attendeeLines := make([]string, 0, len(attendees))
	seen := make(map[string]struct{})
	for _, attendee := range attendees {
		email := strings.TrimSpace(attendee.Email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		params := []string{"ROLE=REQ-PARTICIPANT", "PARTSTAT=NEEDS-ACTION", "RSVP=TRUE"}
		if attendee.Name != "" {
			params = append([]string{"CN=" + attendee.Name}, params...)
		}
		attendeeLines = append(attendeeLines, fmt.Sprintf("ATTENDEE;%s:mailto:%s", strings.Join(params, ";"), email))
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
		"METHOD:REQUEST",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + event.Summary,
		"DTSTAMP:" + formatDateTime(now()),
		"DTSTART:" + formatDateTime(start),
		"DTEND:" + formatDateTime(end),
		fmt.Sprintf("ORGANIZER;EMAIL=%s:mailto:%s", organizer, organizer),
	}

	if event.Location != "" {
		lines = append(lines, "LOCATION:"+event.Location)
	}
	if event.Description != "" {
		lines = append(lines, "DESCRIPTION:"+strings.ReplaceAll(event.Description, "\n", `\n`))
	}

	lines = append(lines, attendeeLines...)

	reminderMinutes := defaultReminderMinutes
	if event.ReminderMinutes != nil {
		reminderMinutes = *event.ReminderMinutes
	}
	if reminderMinutes >= 0 {
		lines = append(lines,
			"BEGIN:VALARM",
			fmt.Sprintf("TRIGGER:-PT%dM", reminderMinutes),
			"ACTION:DISPLAY",
			"DESCRIPTION:Reminder",
			"END:VALARM",
		)
	}

	lines = append(lines, "END:VEVENT", "END:VCALENDAR")

	payload := strings.Join(lines, "\r\n") + "\r\n"
	return uid + ".ics", []byte(payload), nil
}
