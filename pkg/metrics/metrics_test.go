// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-credstore.
//
// go-credstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordRegistration(t *testing.T) {
	Enable()
	RegistrationsTotal.Reset()

	before := testutil.ToFloat64(RegistrationAttemptsTotal)

	RecordRegistration(ResultSuccess, 2)
	RecordRegistration(ResultReused, 0)

	if got := testutil.ToFloat64(RegistrationsTotal.WithLabelValues(ResultSuccess)); got != 1 {
		t.Errorf("Expected 1 successful registration, got %v", got)
	}
	if got := testutil.ToFloat64(RegistrationsTotal.WithLabelValues(ResultReused)); got != 1 {
		t.Errorf("Expected 1 reused registration, got %v", got)
	}
	if got := testutil.ToFloat64(RegistrationAttemptsTotal) - before; got != 2 {
		t.Errorf("Expected 2 attempts recorded, got %v", got)
	}
}

func TestRecordTeardown(t *testing.T) {
	Enable()
	TeardownsTotal.Reset()

	RecordTeardown(ReasonForceReset)
	RecordTeardown(ReasonLoginError)
	RecordTeardown(ReasonLoginError)

	if got := testutil.ToFloat64(TeardownsTotal.WithLabelValues(ReasonLoginError)); got != 2 {
		t.Errorf("Expected 2 login teardowns, got %v", got)
	}
	if count := testutil.CollectAndCount(TeardownsTotal); count != 2 {
		t.Errorf("Expected 2 label sets, got %d", count)
	}
}

func TestRecordObtain(t *testing.T) {
	Enable()
	ObtainTotal.Reset()
	ObtainDuration.Reset()

	RecordObtain("pkcs12", ResultSuccess, 0.2)
	RecordObtain("windows", ResultFallback, 0.01)

	if count := testutil.CollectAndCount(ObtainTotal); count != 2 {
		t.Errorf("Expected 2 obtain series, got %d", count)
	}
	if count := testutil.CollectAndCount(ObtainDuration); count != 2 {
		t.Errorf("Expected 2 histogram series, got %d", count)
	}
}

func TestRecordCache(t *testing.T) {
	Enable()
	CacheEventsTotal.Reset()

	RecordCache(CacheMiss)
	RecordCache(CacheStore)
	RecordCache(CacheHit)
	RecordCache(CacheHit)

	if got := testutil.ToFloat64(CacheEventsTotal.WithLabelValues(CacheHit)); got != 2 {
		t.Errorf("Expected 2 cache hits, got %v", got)
	}
}

func TestRecordWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	ObtainTotal.Reset()
	CacheEventsTotal.Reset()
	TeardownsTotal.Reset()

	RecordObtain("pkcs12", ResultSuccess, 0.1)
	RecordCache(CacheHit)
	RecordTeardown(ReasonRelease)

	if count := testutil.CollectAndCount(ObtainTotal); count != 0 {
		t.Errorf("Expected 0 obtain series when disabled, got %d", count)
	}
	if count := testutil.CollectAndCount(CacheEventsTotal); count != 0 {
		t.Errorf("Expected 0 cache series when disabled, got %d", count)
	}
	if count := testutil.CollectAndCount(TeardownsTotal); count != 0 {
		t.Errorf("Expected 0 teardown series when disabled, got %d", count)
	}
}

func TestSetLiveRegistrations(t *testing.T) {
	Enable()
	SetLiveRegistrations(3)
	if got := testutil.ToFloat64(LiveRegistrations); got != 3 {
		t.Errorf("Expected 3 live registrations, got %v", got)
	}
	SetLiveRegistrations(0)
	if got := testutil.ToFloat64(LiveRegistrations); got != 0 {
		t.Errorf("Expected 0 live registrations, got %v", got)
	}
}
