package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/product-options/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReportFillsBuildInfo(t *testing.T) {
	started := fixedNow.Add(-time.Hour)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"sqlite":  {Status: domain.HealthStatusOK},
				"secrets": {Status: domain.HealthStatusDegraded},
			},
		}},
		Clock: fixedClock,
		Build: BuildInfo{Version: "1.2.3", CommitSHA: "abc", Environment: "prod", StartedAt: started, StorageBackend: "sqlite"},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc" || report.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", report)
	}
	if report.StorageBackend != "sqlite" {
		t.Fatalf("expected storage backend sqlite, got %q", report.StorageBackend)
	}
	if report.Uptime != time.Hour || !report.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceStatusDerivation(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{name: "no checks", want: domain.HealthStatusOK},
		{name: "all ok", checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusOK}}, want: domain.HealthStatusOK},
		{name: "error wins", checks: map[string]domain.SystemHealthCheck{
			"a": {Status: domain.HealthStatusDegraded},
			"b": {Status: domain.HealthStatusError},
		}, want: domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}}})
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{err: errors.New("boom")}})
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected missing repository error")
	}
}
