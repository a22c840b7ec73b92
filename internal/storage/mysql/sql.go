package mysql

const insertReservationSQL = `
INSERT INTO reservations
  (confirmation_number, property_id, room_id, guest_id, channel_id,
   guest_name, guest_email, check_in, check_out, adults, children,
   base_rate, taxes, fees, currency, status, payment_status,
   external_sync_status, confirmation_sent, version)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'tentative', 'pending', 'not_synced', 0, 1)
`

const selectReservationCols = `
  id, confirmation_number, property_id, room_id, guest_id, channel_id,
  guest_name, guest_email, check_in, check_out, adults, children,
  base_rate, taxes, fees, currency, status, payment_status,
  external_sync_status, external_booking_id, confirmation_sent, version,
  created_at, updated_at`

const getReservationSQL = `SELECT` + selectReservationCols + `
FROM reservations WHERE id = ?`

const getReservationByExternalSQL = `SELECT` + selectReservationCols + `
FROM reservations WHERE external_booking_id = ?`

// Compare-and-swap on version: a concurrent writer bumps version first and
// this update then matches zero rows.
const updateReservationStatusSQL = `
UPDATE reservations
SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND version = ?`

const setSyncStatusSQL = `
UPDATE reservations
SET external_sync_status = ?,
    external_booking_id  = COALESCE(?, external_booking_id),
    updated_at           = CURRENT_TIMESTAMP
WHERE id = ?`

const setConfirmationSentSQL = `
UPDATE reservations SET confirmation_sent = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

// active is 1 while status='scheduled' and NULL otherwise; the unique key on
// (reservation_id, email_type, active) ignores NULLs, so INSERT IGNORE makes
// scheduling idempotent without racing a read-then-write.
const insertScheduledEmailSQL = `
INSERT IGNORE INTO scheduled_emails
  (reservation_id, email_type, scheduled_at, status, active)
VALUES (?, ?, ?, 'scheduled', 1)
`

const selectEmailCols = `
  id, reservation_id, email_type, scheduled_at, status,
  skip_reason, error_message, provider_message_id, sent_at, created_at`

const getScheduledEmailSQL = `SELECT` + selectEmailCols + `
FROM scheduled_emails WHERE id = ?`

const listEmailsByReservationSQL = `SELECT` + selectEmailCols + `
FROM scheduled_emails WHERE reservation_id = ? ORDER BY scheduled_at, id`

const dueEmailsSQL = `SELECT` + selectEmailCols + `
FROM scheduled_emails
WHERE status = 'scheduled' AND scheduled_at <= ?
ORDER BY scheduled_at, id
LIMIT ?`

// The claim flips scheduled -> sent before anything is delivered; at most one
// of several concurrent runners matches the row. Delivery details land in a
// second update keyed on the still-empty provider_message_id.
const claimEmailSQL = `
UPDATE scheduled_emails
SET status = 'sent', active = NULL
WHERE id = ? AND status = 'scheduled'`

const recordEmailDeliverySQL = `
UPDATE scheduled_emails
SET provider_message_id = ?, sent_at = ?
WHERE id = ? AND status = 'sent' AND provider_message_id IS NULL`

const markEmailSkippedSQL = `
UPDATE scheduled_emails
SET status = 'skipped', skip_reason = ?, active = NULL
WHERE id = ? AND status = 'scheduled'`

const markEmailFailedSQL = `
UPDATE scheduled_emails
SET status = 'failed', error_message = ?, active = NULL
WHERE id = ? AND status IN ('scheduled', 'sent') AND provider_message_id IS NULL`

const cancelScheduledEmailsSQL = `
UPDATE scheduled_emails
SET status = 'skipped', skip_reason = ?, active = NULL
WHERE reservation_id = ? AND status = 'scheduled'`

const activeConnectionByPropertySQL = `
SELECT id, property_id, external_accommodation_id, is_active, is_connected
FROM external_connections
WHERE property_id = ? AND is_active = 1 AND is_connected = 1`

const connectionByAccommodationSQL = `
SELECT id, property_id, external_accommodation_id, is_active, is_connected
FROM external_connections
WHERE external_accommodation_id = ? AND is_active = 1 AND is_connected = 1`

const hasOpenIssueSQL = `
SELECT EXISTS(SELECT 1 FROM issue_reports WHERE reservation_id = ? AND status = 'open')`
