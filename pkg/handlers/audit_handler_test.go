package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

func TestAuditHandler_Export_AdminOnly(t *testing.T) {
	f := newAPIFixture(t)

	sup := f.do(t, http.MethodGet, "/audit", f.login(t, supervisorEmail), nil, "")
	assert.Equal(t, http.StatusForbidden, sup.Code)

	anon := f.do(t, http.MethodGet, "/audit", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	rec := f.do(t, http.MethodGet, "/audit", f.login(t, adminEmail), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AuditListResponse
	decodeEnvelope(t, rec, &resp)
	assert.Equal(t, len(resp.Entries), resp.Count)

	var deniedExports int
	for _, e := range resp.Entries {
		if e.Action == models.AuditActionExportData && e.Outcome == models.AuditOutcomeDenied {
			deniedExports++
		}
	}
	assert.Equal(t, 2, deniedExports, "both refused exports are on the trail")

	trail := f.auditTrail(t)
	assert.Equal(t, models.AuditActionExportData, trail[0].Action)
	assert.Equal(t, models.AuditOutcomeSuccess, trail[0].Outcome, "the export itself is recorded")
}

func TestAuditHandler_Export_Filters(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, investigatorEmail)
	f.login(t, supervisorEmail)
	admin := f.login(t, adminEmail)

	rec := f.do(t, http.MethodGet, "/audit?action=login&officialId=off-sup&limit=5", admin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AuditListResponse
	decodeEnvelope(t, rec, &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "off-sup", resp.Entries[0].OfficialID)
	assert.Equal(t, models.AuditActionLogin, resp.Entries[0].Action)
}

func TestAuditHandler_Export_BadQuery(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.login(t, adminEmail)

	for _, query := range []string{"action=delete_everything", "outcome=maybe", "since=tuesday", "limit=0", "limit=ten"} {
		rec := f.do(t, http.MethodGet, "/audit?"+query, admin, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Equal(t, "validation_error", decodeError(t, rec), query)
	}
}

func TestAuditHandler_Export_EntriesCarryNoSecrets(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/login", "", strings.NewReader(`{"email":"i.rao@police.gov","password":"hunter2"}`), "application/json")

	rec := f.do(t, http.MethodGet, "/audit", f.login(t, adminEmail), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}
