/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var claimColumns = []string{"last_used_at", "previous"}

func TestClaimReusableAddress(t *testing.T) {
	ds, mock := newTestDatasource(t)
	now := time.Now()
	previous := now.Add(-48 * time.Hour)

	mock.ExpectQuery("WITH previous AS (.+) INSERT INTO paywatch.address_usage (.+) ON CONFLICT (.+) DO UPDATE (.+) WHERE paywatch.address_usage.last_used_at < NOW\\(\\) - make_interval").
		WithArgs("org_1", "XRP", "rA", float64(86400)).
		WillReturnRows(sqlmock.NewRows(claimColumns).AddRow(now, previous))

	claim, err := ds.ClaimReusableAddress(context.Background(), "org_1", "XRP", "rA", 24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, "rA", claim.Address)
	assert.True(t, claim.ClaimedAt.Equal(now))
	require.NotNil(t, claim.PreviousUsedAt)
	assert.True(t, claim.PreviousUsedAt.Equal(previous))

	mock.ExpectQuery("INSERT INTO paywatch.address_usage").
		WithArgs("org_1", "XRP", "rB", float64(86400)).
		WillReturnRows(sqlmock.NewRows(claimColumns))

	claim, err = ds.ClaimReusableAddress(context.Background(), "org_1", "XRP", "rB", 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, claim, "an address inside its cooldown is not claimed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnusedAddress(t *testing.T) {
	ds, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO paywatch.address_usage (.+) ON CONFLICT (.+) DO NOTHING").
		WithArgs("org_1", "XRP", "rA").
		WillReturnRows(sqlmock.NewRows(claimColumns))

	claim, err := ds.ClaimUnusedAddress(context.Background(), "org_1", "XRP", "rA")
	require.NoError(t, err)
	assert.Nil(t, claim)

	mock.ExpectQuery("INSERT INTO paywatch.address_usage").
		WithArgs("org_1", "XRP", "rB").
		WillReturnRows(sqlmock.NewRows(claimColumns).AddRow(now, nil))

	claim, err = ds.ClaimUnusedAddress(context.Background(), "org_1", "XRP", "rB")
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Nil(t, claim.PreviousUsedAt)

	mock.ExpectQuery("INSERT INTO paywatch.address_usage").
		WithArgs("org_1", "XRP", "rC").
		WillReturnError(errors.New("boom"))

	_, err = ds.ClaimUnusedAddress(context.Background(), "org_1", "XRP", "rC")
	assert.True(t, apierror.HasCode(err, apierror.ErrInternalServer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForceClaimAddress(t *testing.T) {
	ds, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectQuery("WITH previous AS (.+) INSERT INTO paywatch.address_usage").
		WithArgs("org_1", "XRP", "rA").
		WillReturnRows(sqlmock.NewRows(claimColumns).AddRow(now, now.Add(-time.Hour)))

	claim, err := ds.ForceClaimAddress(context.Background(), "org_1", "XRP", "rA")
	require.NoError(t, err)
	require.NotNil(t, claim.PreviousUsedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseAddressClaim(t *testing.T) {
	ds, mock := newTestDatasource(t)
	now := time.Now()
	previous := now.Add(-48 * time.Hour)

	mock.ExpectExec("DELETE FROM paywatch.address_usage").
		WithArgs("org_1", "XRP", "rA", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.ReleaseAddressClaim(context.Background(), &model.AddressClaim{
		OrganizationID: "org_1", Asset: "XRP", Address: "rA", ClaimedAt: now,
	}))

	mock.ExpectExec("UPDATE paywatch.address_usage SET last_used_at = \\$5").
		WithArgs("org_1", "XRP", "rB", now, previous).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.ReleaseAddressClaim(context.Background(), &model.AddressClaim{
		OrganizationID: "org_1", Asset: "XRP", Address: "rB", ClaimedAt: now, PreviousUsedAt: &previous,
	}))

	mock.ExpectExec("DELETE FROM paywatch.address_usage").WillReturnError(errors.New("boom"))
	err := ds.ReleaseAddressClaim(context.Background(), &model.AddressClaim{Address: "rC", ClaimedAt: now})
	assert.True(t, apierror.HasCode(err, apierror.ErrInternalServer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAddressUsage(t *testing.T) {
	ds, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM paywatch.address_usage").
		WithArgs("org_1", "XRP").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "asset", "address", "last_used_at", "use_count"}).
			AddRow("org_1", "XRP", "rB", now, 2).
			AddRow("org_1", "XRP", "rA", now.Add(-time.Hour), 5))

	usage, err := ds.GetAddressUsage(context.Background(), "org_1", "XRP")
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "rB", usage[0].Address)
	assert.Equal(t, 5, usage[1].UseCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
