package postgres

// SQL queries for the event log, entity state, audit trail and delivery jobs.

const (
	// queryRecordEvent appends a domain event.
	// RETURNING retrieves the auto-generated seq for cursor tracking.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	queryRecordEvent = `
		INSERT INTO events (
			id, source, module, type,
			subject_kind, subject_id, actor_kind, actor_id,
			correlation_id, payload, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
		RETURNING seq
	`

	// queryRetrieveEventsAfterCursor fetches events after a cursor (seq) in
	// strict total order. The monotonic sequence prevents batch boundary data
	// loss during replay.
	queryRetrieveEventsAfterCursor = `
		SELECT
			id, source, module, type,
			subject_kind, subject_id, actor_kind, actor_id,
			correlation_id, payload, created_at, seq
		FROM events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`

	// queryCountSubjectEvents backs threshold facts ("N reports in M hours").
	queryCountSubjectEvents = `
		SELECT COUNT(*)
		FROM events
		WHERE type LIKE $1 || '%'
		  AND subject_kind = $2
		  AND subject_id = $3
		  AND created_at >= $4
	`

	queryFindEntity = `
		SELECT id, state, updated_at
		FROM entities
		WHERE kind = $1 AND id = $2
	`

	// queryUpdateEntityState is the compare-and-set transition write: the state
	// guard in the WHERE clause rejects concurrent transitions that already
	// moved the entity.
	queryUpdateEntityState = `
		UPDATE entities
		SET state = $4, updated_at = $5
		WHERE kind = $1 AND id = $2 AND state = $3
	`

	queryAppendAudit = `
		INSERT INTO audit_log (
			id, entity_kind, entity_id, event,
			from_state, to_state, actor_id, reason, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	queryListAudit = `
		SELECT
			id, entity_kind, entity_id, event,
			from_state, to_state, actor_id, reason, metadata, created_at
		FROM audit_log
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	queryFindUser = `
		SELECT id, name, email, phone, telegram_chat_id, account_id, state, created_at
		FROM users
		WHERE id = $1
	`

	queryFindListing = `
		SELECT id, owner_user_id, account_id, title, state, created_at
		FROM listings
		WHERE id = $1
	`

	queryFindAccount = `
		SELECT id, owner_user_id, name, state, created_at
		FROM accounts
		WHERE id = $1
	`

	queryEnqueueJob = `
		INSERT INTO delivery_jobs (
			id, channel, recipient_user_id, destination,
			template_id, subject, content, variables,
			event_id, run_at, status, attempts, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	// queryClaimDueJobs flips due pending jobs to RUNNING and returns them in
	// one statement, so concurrent pollers never pick up the same job twice.
	queryClaimDueJobs = `
		UPDATE delivery_jobs
		SET status = 'RUNNING', attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM delivery_jobs
			WHERE status = 'PENDING' AND run_at <= $1
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING
			id, channel, recipient_user_id, destination,
			template_id, subject, content, variables,
			event_id, run_at, status, attempts, last_error, created_at
	`

	queryCompleteJob = `
		UPDATE delivery_jobs
		SET status = 'DONE', last_error = ''
		WHERE id = $1
	`

	queryFailJobFinal = `
		UPDATE delivery_jobs
		SET status = 'FAILED', last_error = $2
		WHERE id = $1
	`

	queryFailJobRetry = `
		UPDATE delivery_jobs
		SET status = 'PENDING', last_error = $2, run_at = $3
		WHERE id = $1
	`

	querySaveNotification = `
		INSERT INTO notifications (
			id, user_id, template_id, subject, content, variables, event_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
)
