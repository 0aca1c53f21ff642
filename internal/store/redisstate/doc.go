// Package redisstate is a Redis-backed membership oracle. Several keyward
// processes for the same account can share room state through it.
//
// Layout, under a configurable prefix:
//
//	{prefix}rooms:encrypted       set of encrypted room ids
//	{prefix}room:members:{room}   hash user id -> membership
//	{prefix}user:rooms:{user}     set of rooms the user is joined or invited to
package redisstate
