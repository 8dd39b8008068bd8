package redis

const (
	// applyQuotaScript zeroes a quota left over from an earlier day and adds
	// seconds in one step. Returns {total, reset}.
	applyQuotaScript = `
local quota_key = KEYS[1]   -- kidsfeed:quota:{familyID}
local index_key = KEYS[2]   -- kidsfeed:quotas

local family_id = ARGV[1]
local today = ARGV[2]
local seconds = tonumber(ARGV[3])

local reset = 0
local last = redis.call('HGET', quota_key, 'last_reset_date')

if last ~= today then
  redis.call('HSET', quota_key,
    'family_id', family_id,
    'daily_watch_time_seconds', 0,
    'last_reset_date', today
  )
  redis.call('SADD', index_key, family_id)
  if last then
    reset = 1
  end
end

local total = redis.call('HINCRBY', quota_key, 'daily_watch_time_seconds', seconds)
return {total, reset}
`
)
