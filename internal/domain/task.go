package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Param 是一个触发参数，保持原始顺序
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Params 有序的 key→value 参数列表（均为字符串）
type Params []Param

// Get 返回第一个匹配 key 的值
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set 覆盖已有 key，否则追加到末尾
func (p Params) Set(key, value string) Params {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

// Encode 按插入顺序编码为 query string
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// ParamsFromQuery 从原始 query string 还原有序参数，解析失败的片段被跳过
func ParamsFromQuery(raw string) Params {
	var out Params
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		out = append(out, Param{Key: key, Value: val})
	}
	return out
}

// ScheduledTask 是延时队列中的一个条目，到期后由 worker 以 GET 方式回调 Endpoint
type ScheduledTask struct {
	ID        uuid.UUID `json:"id"`         // 条目唯一标识
	Endpoint  string    `json:"endpoint"`   // 回调路径，例如 /loadCloudStorageToBigquery
	Params    Params    `json:"params"`     // 原始触发参数，原样转发
	ETA       time.Time `json:"eta"`        // 最早执行时间
	QueueName string    `json:"queue_name"` // 队列名称
	Attempt   int       `json:"attempt"`    // 已派发次数，从 0 开始
}

// URL 拼接回调地址
func (t ScheduledTask) URL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/") + t.Endpoint
	if q := t.Params.Encode(); q != "" {
		u += "?" + q
	}
	return u
}
