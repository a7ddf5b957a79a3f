package models

import (
	"math"
	"testing"
)

func TestStorageAccount_DeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		account  StorageAccount
		expected AccountStatus
	}{
		{
			name:     "95% storage is exhausted",
			account:  StorageAccount{Status: AccountStatusActive, StorageLimit: 100, StorageUsed: 95},
			expected: AccountStatusExhausted,
		},
		{
			name:     "81% storage is near limit",
			account:  StorageAccount{Status: AccountStatusActive, StorageLimit: 100, StorageUsed: 81},
			expected: AccountStatusNearLimit,
		},
		{
			name:     "80% storage is near limit",
			account:  StorageAccount{Status: AccountStatusActive, StorageLimit: 100, StorageUsed: 80},
			expected: AccountStatusNearLimit,
		},
		{
			name:     "79% storage is active",
			account:  StorageAccount{Status: AccountStatusActive, StorageLimit: 100, StorageUsed: 79},
			expected: AccountStatusActive,
		},
		{
			name:     "uploads dimension drives status",
			account:  StorageAccount{Status: AccountStatusActive, StorageLimit: 100, StorageUsed: 10, UploadsLimit: 1000, UploadsUsed: 990},
			expected: AccountStatusExhausted,
		},
		{
			name:     "over limit is exhausted",
			account:  StorageAccount{Status: AccountStatusNearLimit, StorageLimit: 100, StorageUsed: 140},
			expected: AccountStatusExhausted,
		},
		{
			name:     "unlimited is active",
			account:  StorageAccount{Status: AccountStatusExhausted, StorageUsed: 1 << 40},
			expected: AccountStatusActive,
		},
		{
			name:     "disabled is sticky",
			account:  StorageAccount{Status: AccountStatusDisabled, StorageLimit: 100, StorageUsed: 0},
			expected: AccountStatusDisabled,
		},
		{
			name:     "large byte limits",
			account:  StorageAccount{Status: AccountStatusActive, StorageLimit: 25 * GB, StorageUsed: 25*GB - GB},
			expected: AccountStatusExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.account.DeriveStatus(); got != tt.expected {
				t.Errorf("DeriveStatus() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStorageAccount_CanAccommodate(t *testing.T) {
	tests := []struct {
		name     string
		account  StorageAccount
		size     int64
		expected bool
	}{
		{
			name:     "fits exactly",
			account:  StorageAccount{StorageLimit: 1000, StorageUsed: 500, UploadsLimit: 10, UploadsUsed: 9},
			size:     500,
			expected: true,
		},
		{
			name:     "too large",
			account:  StorageAccount{StorageLimit: 1000, StorageUsed: 501},
			size:     500,
			expected: false,
		},
		{
			name:     "uploads used up",
			account:  StorageAccount{StorageLimit: 1000, UploadsLimit: 10, UploadsUsed: 10},
			size:     1,
			expected: false,
		},
		{
			name:     "unlimited",
			account:  StorageAccount{StorageUsed: 1 << 50, UploadsUsed: 1 << 30},
			size:     1 << 40,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.account.CanAccommodate(tt.size); got != tt.expected {
				t.Errorf("CanAccommodate(%d) = %v, want %v", tt.size, got, tt.expected)
			}
		})
	}
}

func TestStorageAccount_Availability(t *testing.T) {
	a := StorageAccount{
		StorageLimit:   1000,
		StorageUsed:    250,
		BandwidthLimit: 0,
		UploadsLimit:   100,
		UploadsUsed:    150,
	}

	if got := a.StorageAvailability(); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("StorageAvailability() = %v, want 0.75", got)
	}
	if got := a.BandwidthAvailability(); got != 1 {
		t.Errorf("BandwidthAvailability() = %v, want 1 for unlimited", got)
	}
	if got := a.UploadAvailability(); got != 0 {
		t.Errorf("UploadAvailability() = %v, want 0 when over limit", got)
	}
	if got := a.MinAvailability(); got != 0 {
		t.Errorf("MinAvailability() = %v, want 0", got)
	}
}

func TestStorageAccount_Selectable(t *testing.T) {
	for status, want := range map[AccountStatus]bool{
		AccountStatusActive:    true,
		AccountStatusNearLimit: true,
		AccountStatusExhausted: false,
		AccountStatusDisabled:  false,
	} {
		a := StorageAccount{Status: status}
		if got := a.Selectable(); got != want {
			t.Errorf("Selectable() for %s = %v, want %v", status, got, want)
		}
	}
}
