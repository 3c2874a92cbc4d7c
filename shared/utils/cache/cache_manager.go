package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"planify-backend/shared/config"
	"planify-backend/shared/database/models"
)

// CacheManager caches per-(user, organization) role lists in Redis. The cache is
// advisory: authorization queries may read it, but invariant checks inside transactions
// always hit the store, and services invalidate the pair after every membership
// mutation.
type CacheManager struct {
	client *redis.Client
}

// RoleCacheData is the cached role list for one (user, organization) pair.
type RoleCacheData struct {
	UserID         uuid.UUID     `json:"user_id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	Roles          []models.Role `json:"roles"`
	CachedAt       time.Time     `json:"cached_at"`
}

var (
	globalCacheManager *CacheManager
	MemberRolesTTL     = 15 * time.Minute
)

// InitCacheManager initializes the global cache manager
func InitCacheManager() error {
	cfg := config.GetConfig()

	redisDB, err := strconv.Atoi(cfg.RedisDB)
	if err != nil {
		log.Printf("❌ Invalid Redis DB number: %s, using default 0", cfg.RedisDB)
		redisDB = 0
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       redisDB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	globalCacheManager = NewCacheManagerWith(client)

	log.Printf("✅ Redis Cache Manager initialized successfully - %s:%s DB:%d",
		cfg.RedisHost, cfg.RedisPort, redisDB)

	return nil
}

// NewCacheManagerWith wraps an existing Redis client.
func NewCacheManagerWith(client *redis.Client) *CacheManager {
	return &CacheManager{client: client}
}

// GetCacheManager returns the global cache manager instance
func GetCacheManager() *CacheManager {
	if globalCacheManager == nil {
		if err := InitCacheManager(); err != nil {
			log.Printf("❌ Failed to initialize cache manager: %v", err)
			return nil
		}
	}
	return globalCacheManager
}

// GenerateMemberRolesKey generates the cache key for a (user, organization) role list
func GenerateMemberRolesKey(userID, orgID uuid.UUID) string {
	return fmt.Sprintf("roles:user:%s:org:%s", userID, orgID)
}

// SetMemberRoles caches the role list for a (user, organization) pair
func (cm *CacheManager) SetMemberRoles(ctx context.Context, userID, orgID uuid.UUID, roles []models.Role) error {
	if cm == nil || cm.client == nil {
		return fmt.Errorf("cache manager not initialized")
	}

	data := RoleCacheData{
		UserID:         userID,
		OrganizationID: orgID,
		Roles:          roles,
		CachedAt:       time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %v", err)
	}

	key := GenerateMemberRolesKey(userID, orgID)
	if err := cm.client.Set(ctx, key, jsonData, MemberRolesTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %v", err)
	}
	return nil
}

// GetMemberRoles retrieves the cached role list for a (user, organization) pair
func (cm *CacheManager) GetMemberRoles(ctx context.Context, userID, orgID uuid.UUID) ([]models.Role, bool) {
	if cm == nil || cm.client == nil {
		return nil, false
	}

	key := GenerateMemberRolesKey(userID, orgID)
	jsonData, err := cm.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}

	var data RoleCacheData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		log.Printf("❌ Failed to unmarshal cached roles for %s: %v", key, err)
		return nil, false
	}
	return data.Roles, true
}

// InvalidateMemberRoles drops the cached role list after a membership mutation
func (cm *CacheManager) InvalidateMemberRoles(ctx context.Context, userID, orgID uuid.UUID) error {
	if cm == nil || cm.client == nil {
		return nil
	}
	key := GenerateMemberRolesKey(userID, orgID)
	return cm.client.Del(ctx, key).Err()
}

// InvalidateUserRoles drops every cached role list for the user (used on user deletion)
func (cm *CacheManager) InvalidateUserRoles(ctx context.Context, userID uuid.UUID) error {
	if cm == nil || cm.client == nil {
		return nil
	}

	pattern := fmt.Sprintf("roles:user:%s:org:*", userID)
	iter := cm.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := cm.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
