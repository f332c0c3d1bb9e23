// Package rulebook is a YAML-defined application: message rules,
// named trigger handlers and scheduled jobs, each rendering a reply
// from a text template.
package rulebook

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"repp/internal/domain"
	"repp/internal/ticker"
)

// File is the on-disk shape of a rulebook.
type File struct {
	IgnoreBots *bool             `yaml:"ignore_bots"`
	Rules      []RuleDef         `yaml:"rules"`
	Triggers   map[string]Action `yaml:"triggers"`
	Jobs       []JobDef          `yaml:"jobs"`
}

// Action is what a rule, trigger handler or job answers with.
type Action struct {
	Reply       string              `yaml:"reply"`
	Channel     string              `yaml:"channel"`
	Attachments []domain.Attachment `yaml:"attachments"`
	Trigger     *domain.TriggerSpec `yaml:"trigger"`
}

// RuleDef matches inbound messages by regexp or keyword.
type RuleDef struct {
	Name     string   `yaml:"name"`
	Match    string   `yaml:"match"`
	Keywords []string `yaml:"keywords"`
	Action   `yaml:",inline"`
}

// JobDef is a scheduled job; its reply needs a channel.
type JobDef struct {
	Name   string `yaml:"name"`
	Every  string `yaml:"every"`
	Cron   string `yaml:"cron"`
	Action `yaml:",inline"`
}

type compiled struct {
	reply       *template.Template
	channel     string
	attachments []domain.Attachment
	trigger     *domain.TriggerSpec
}

type rule struct {
	name     string
	pattern  *regexp.Regexp
	keywords []string
	compiled
}

// Book implements domain.Application. It is immutable once built and
// safe for concurrent calls.
type Book struct {
	ignoreBots bool
	rules      []rule
	triggers   map[string]compiled
	jobs       map[string]compiled
	schedule   []ticker.Job
}

// Data is the template context.
type Data struct {
	Kind    string
	Text    string
	Channel string
	Sender  string
	ReplyTo []string
	Match   []string
	Payload any
	Depth   int
	Job     string
	Time    time.Time
}

// New compiles a rulebook. Bots are ignored unless ignore_bots is false.
func New(f File) (*Book, error) {
	b := &Book{
		ignoreBots: f.IgnoreBots == nil || *f.IgnoreBots,
		triggers:   make(map[string]compiled, len(f.Triggers)),
		jobs:       make(map[string]compiled, len(f.Jobs)),
	}

	for i, rd := range f.Rules {
		name := rd.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		if rd.Match == "" && len(rd.Keywords) == 0 {
			return nil, fmt.Errorf("rule %s: match or keywords required", name)
		}
		r := rule{name: name}
		if rd.Match != "" {
			re, err := regexp.Compile(rd.Match)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
			r.pattern = re
		}
		for _, kw := range rd.Keywords {
			r.keywords = append(r.keywords, strings.ToLower(kw))
		}
		c, err := compile("rule "+name, rd.Action)
		if err != nil {
			return nil, err
		}
		r.compiled = c
		b.rules = append(b.rules, r)
	}

	for name, a := range f.Triggers {
		c, err := compile("trigger "+name, a)
		if err != nil {
			return nil, err
		}
		b.triggers[name] = c
	}

	for _, jd := range f.Jobs {
		if jd.Channel == "" {
			return nil, fmt.Errorf("job %s: channel is required", jd.Name)
		}
		job := ticker.Job{Name: jd.Name, Cron: jd.Cron}
		if jd.Every != "" {
			d, err := time.ParseDuration(jd.Every)
			if err != nil {
				return nil, fmt.Errorf("job %s: every: %w", jd.Name, err)
			}
			job.Every = d
		}
		c, err := compile("job "+jd.Name, jd.Action)
		if err != nil {
			return nil, err
		}
		b.jobs[jd.Name] = c
		b.schedule = append(b.schedule, job)
	}

	return b, nil
}

func compile(what string, a Action) (compiled, error) {
	tmpl, err := template.New(what).Option("missingkey=zero").Parse(a.Reply)
	if err != nil {
		return compiled{}, fmt.Errorf("%s: reply template: %w", what, err)
	}
	return compiled{
		reply:       tmpl,
		channel:     a.Channel,
		attachments: a.Attachments,
		trigger:     a.Trigger,
	}, nil
}

// Jobs returns the schedule for the ticker.
func (b *Book) Jobs() []ticker.Job { return b.schedule }

// Call answers an event. An event nothing matches gets an empty reply.
func (b *Book) Call(_ context.Context, ev domain.Event) (domain.Reply, error) {
	data := Data{Kind: string(ev.Kind()), Text: ev.Text(), Channel: ev.Destination()}

	switch e := ev.(type) {
	case *domain.Receive:
		if e.IsBot && b.ignoreBots {
			return domain.Reply{}, nil
		}
		if e.Sender != nil {
			data.Sender = e.Sender.Name
		}
		data.ReplyTo = e.ReplyTo
		for _, r := range b.rules {
			match, ok := r.match(e.Body)
			if !ok {
				continue
			}
			data.Match = match
			return r.render(data)
		}
		return domain.Reply{}, nil

	case *domain.Trigger:
		c, ok := b.triggers[e.Name]
		if !ok {
			return domain.Reply{}, nil
		}
		data.Payload = e.Payload
		data.Depth = e.Depth
		if e.Original != nil {
			data.Text = e.Original.Body
			data.ReplyTo = e.Original.ReplyTo
			if e.Original.Sender != nil {
				data.Sender = e.Original.Sender.Name
			}
		}
		return c.render(data)

	case *domain.Tick:
		c, ok := b.jobs[e.Job]
		if !ok {
			return domain.Reply{}, nil
		}
		data.Job = e.Job
		data.Time = e.Time
		return c.render(data)
	}
	return domain.Reply{}, nil
}

func (r rule) match(text string) ([]string, bool) {
	if r.pattern != nil {
		if m := r.pattern.FindStringSubmatch(text); m != nil {
			return m, true
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			return []string{kw}, true
		}
	}
	return nil, false
}

func (c compiled) render(data Data) (domain.Reply, error) {
	var buf bytes.Buffer
	if err := c.reply.Execute(&buf, data); err != nil {
		return domain.Reply{}, fmt.Errorf("render %s: %w", c.reply.Name(), err)
	}
	return domain.Reply{
		Body:        strings.TrimSpace(buf.String()),
		Channel:     c.channel,
		Attachments: c.attachments,
		Trigger:     c.trigger,
	}, nil
}
