package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestHealthChecker_Check(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	checker := NewHealthChecker(db, newTestLogger())
	assert.False(t, checker.IsHealthy())

	require.NoError(t, checker.Check(context.Background()))
	assert.True(t, checker.IsHealthy())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_FailureAndRecovery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker(db, newTestLogger())
	ctx := context.Background()

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	assert.Error(t, checker.Check(ctx))
	assert.False(t, checker.IsHealthy())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.LastError)

	mock.ExpectPing()
	assert.NoError(t, checker.Check(ctx))
	assert.True(t, checker.IsHealthy())

	result = checker.GetHealthResult()
	assert.Empty(t, result.LastError)
	assert.NotEmpty(t, result.ResponseTime)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_BackgroundMonitoring(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker(db, newTestLogger())
	checker.SetCheckInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker.Start(ctx)
	checker.Start(ctx)

	assert.Eventually(t, checker.IsHealthy, time.Second, 10*time.Millisecond)
	checker.Stop()
	checker.Stop()
}

func TestMetricsCollector_Collect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	db.SetMaxOpenConns(7)
	collector := NewMetricsCollector(db, newTestLogger(), prometheusRegistry())
	assert.NotPanics(t, collector.Collect)
}
