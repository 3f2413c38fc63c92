package postgres

const queryCreateTarget = `
INSERT INTO targets (target_id, endpoint_ref, priority_tier, enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryGetTarget = `
SELECT target_id, endpoint_ref, priority_tier, enabled, created_at, updated_at
FROM targets
WHERE target_id = $1
`

const queryListTargets = `
SELECT target_id, endpoint_ref, priority_tier, enabled, created_at, updated_at
FROM targets
ORDER BY target_id
LIMIT $1 OFFSET $2
`

const queryListEnabledTargets = `
SELECT target_id, endpoint_ref, priority_tier, enabled, created_at, updated_at
FROM targets
WHERE enabled = true
  AND target_id > $1
ORDER BY target_id
LIMIT $2
`

const queryCountTargets = `
SELECT count(*) FROM targets
`

const queryCountEnabledTargets = `
SELECT count(*) FROM targets WHERE enabled = true
`

const querySetTargetEnabled = `
UPDATE targets
SET enabled = $1, updated_at = $2
WHERE target_id = $3
`

const queryDeleteTarget = `
DELETE FROM targets WHERE target_id = $1
`
