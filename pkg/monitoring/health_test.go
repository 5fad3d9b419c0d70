package monitoring

import "testing"

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("gptwrapper", "test")
	hc.AddCheck("ok", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}

	hc.AddCheck("cache", func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "Redis not configured"}
	})
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}

	hc.AddCheck("db", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}

func TestRedisHealthCheckNilClient(t *testing.T) {
	result := RedisHealthCheck(nil)()
	if result.Status != StatusDegraded {
		t.Fatalf("expected degraded for nil client, got %s", result.Status)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": "postgres://localhost/gptwrapper",
		"JWT_SECRET":   "",
	})
	result := check()
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy when JWT_SECRET missing, got %s", result.Status)
	}
}
