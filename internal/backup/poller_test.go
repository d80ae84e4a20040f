package backup

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"BigqueryIngest/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeRegistry struct {
	records  []domain.BackupRecord
	spurious []domain.BackupRecord // 不经过区间过滤直接返回
	err      error
	calls    int
}

func (f *fakeRegistry) QueryBackups(_ context.Context, low, high string, limit int) ([]domain.BackupRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.spurious != nil {
		return f.spurious, nil
	}
	sorted := append([]domain.BackupRecord(nil), f.records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var out []domain.BackupRecord
	for _, r := range sorted {
		if r.Name < low || r.Name > high {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	t0     = time.UnixMilli(1_700_000_000_000)
	maxAge = 15 * time.Minute
)

func completed() *time.Time {
	t := t0.Add(time.Minute)
	return &t
}

func TestPoll_ExpiredRegardlessOfRegistry(t *testing.T) {
	reg := &fakeRegistry{records: []domain.BackupRecord{
		{Name: "backup-100", StorageHandle: "/gs/bucket/backup_info", CompletionTime: completed()},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0.Add(16*time.Minute), maxAge)

	assert.Equal(t, Expired, res.Status)
	assert.Equal(t, 0, reg.calls)
}

func TestPoll_ExactlyMaxAgeIsNotExpired(t *testing.T) {
	reg := &fakeRegistry{}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0.Add(maxAge), maxAge)

	assert.Equal(t, NotReady, res.Status)
	assert.Equal(t, 1, reg.calls)
}

func TestPoll_ReturnsLexicographicallyFirstMatch(t *testing.T) {
	reg := &fakeRegistry{records: []domain.BackupRecord{
		{Name: "backup-100-20230101", StorageHandle: "/gs/bucket/later.backup_info", CompletionTime: completed()},
		{Name: "backup-100", StorageHandle: "/gs/bucket/first.backup_info", CompletionTime: completed()},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0.Add(time.Minute), maxAge)

	assert.Equal(t, Ready, res.Status)
	assert.Equal(t, "backup-100", res.Record.Name)
	assert.Equal(t, "/gs/bucket/first.backup_info", res.Handle)
}

func TestPoll_DateSuffixedNameMatches(t *testing.T) {
	reg := &fakeRegistry{records: []domain.BackupRecord{
		{Name: "bq_backup_1700000000000-20231114", StorageHandle: "/gs/b/x.backup_info"},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "bq_backup_1700000000000", t0, t0, maxAge)

	assert.Equal(t, Ready, res.Status)
}

func TestPoll_NoRecordIsNotReady(t *testing.T) {
	reg := &fakeRegistry{records: []domain.BackupRecord{
		{Name: "other-backup", StorageHandle: "/gs/b/x"},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0, maxAge)

	assert.Equal(t, NotReady, res.Status)
}

func TestPoll_RangeMatchNotContainingPrefixIsNotReady(t *testing.T) {
	reg := &fakeRegistry{spurious: []domain.BackupRecord{
		{Name: "backup-10", StorageHandle: "/gs/b/x"},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100-", t0, t0, maxAge)

	assert.Equal(t, NotReady, res.Status)
}

func TestPoll_MissingHandleIsNotReady(t *testing.T) {
	reg := &fakeRegistry{records: []domain.BackupRecord{
		{Name: "backup-100", CompletionTime: completed()},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0, maxAge)

	assert.Equal(t, NotReady, res.Status)
	assert.Empty(t, res.Handle)
}

func TestPoll_HandleWithoutCompletionTimeIsReady(t *testing.T) {
	reg := &fakeRegistry{records: []domain.BackupRecord{
		{Name: "backup-100", StorageHandle: "/gs/b/x.backup_info"},
	}}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0, maxAge)

	assert.Equal(t, Ready, res.Status)
	assert.Equal(t, "/gs/b/x.backup_info", res.Handle)
}

func TestPoll_RegistryErrorIsNotReady(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("datastore unavailable")}
	p := NewPoller(reg, zerolog.Nop())

	res := p.Poll(context.Background(), "backup-100", t0, t0, maxAge)

	assert.Equal(t, NotReady, res.Status)
}
