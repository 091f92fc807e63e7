package domain

// KeyPrefix namespaces every key the gateway writes to Redis.
const KeyPrefix = "vecgate:"
