package server

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cachemir/asyncproxy/pkg/protocol"
)

// command describes one supported command. arity counts the command name:
// positive means exactly that many tokens, negative means at least -arity.
type command struct {
	arity   int
	handler func(args []string) *protocol.Response
}

func (c command) accepts(n int) bool {
	if c.arity < 0 {
		return n >= -c.arity
	}
	return n == c.arity
}

func (s *Server) commandTable() map[string]command {
	return map[string]command{
		"PING":      {-1, s.handlePing},
		"ECHO":      {2, s.handleEcho},
		"DBSIZE":    {1, s.handleDBSize},
		"GET":       {2, s.handleGet},
		"SET":       {-3, s.handleSet},
		"DEL":       {-2, s.handleDel},
		"EXISTS":    {-2, s.handleExists},
		"INCR":      {2, s.handleIncr(1)},
		"DECR":      {2, s.handleIncr(-1)},
		"INCRBY":    {3, s.handleIncr(1)},
		"DECRBY":    {3, s.handleIncr(-1)},
		"EXPIRE":    {3, s.handleExpire},
		"TTL":       {2, s.handleTTL},
		"PERSIST":   {2, s.handlePersist},
		"HGET":      {3, s.handleHGet},
		"HSET":      {-4, s.handleHSet},
		"HDEL":      {-3, s.handleHDel},
		"HEXISTS":   {3, s.handleHExists},
		"HGETALL":   {2, s.handleHGetAll},
		"LPUSH":     {-3, s.handleLPush},
		"RPUSH":     {-3, s.handleRPush},
		"LPOP":      {2, s.handleLPop},
		"RPOP":      {2, s.handleRPop},
		"LLEN":      {2, s.handleLLen},
		"LRANGE":    {4, s.handleLRange},
		"SADD":      {-3, s.handleSAdd},
		"SREM":      {-3, s.handleSRem},
		"SMEMBERS":  {2, s.handleSMembers},
		"SISMEMBER": {3, s.handleSIsMember},
	}
}

func statusOK() *protocol.Response {
	return &protocol.Response{Type: protocol.RespOK}
}

func status(s string) *protocol.Response {
	return &protocol.Response{Type: protocol.RespStatus, Data: s}
}

func bulk(s string) *protocol.Response {
	return &protocol.Response{Type: protocol.RespString, Data: s}
}

func integer(n int64) *protocol.Response {
	return &protocol.Response{Type: protocol.RespInt, Data: n}
}

func array(items []string) *protocol.Response {
	return &protocol.Response{Type: protocol.RespArray, Data: items}
}

func null() *protocol.Response {
	return &protocol.Response{Type: protocol.RespNil}
}

func errorf(format string, a ...interface{}) *protocol.Response {
	return &protocol.Response{Type: protocol.RespError, Error: fmt.Sprintf(format, a...)}
}

func fromErr(err error) *protocol.Response {
	return &protocol.Response{Type: protocol.RespError, Error: err.Error()}
}

func boolInt(b bool) *protocol.Response {
	if b {
		return integer(1)
	}
	return integer(0)
}

func parseInt(arg string) (int64, *protocol.Response) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errorf("ERR value is not an integer or out of range")
	}
	return n, nil
}

func (s *Server) handlePing(args []string) *protocol.Response {
	switch len(args) {
	case 0:
		return status("PONG")
	case 1:
		return bulk(args[0])
	}
	return errorf("ERR wrong number of arguments for 'ping' command")
}

func (s *Server) handleEcho(args []string) *protocol.Response {
	return bulk(args[0])
}

func (s *Server) handleDBSize(_ []string) *protocol.Response {
	return integer(int64(s.cache.Len()))
}

func (s *Server) handleGet(args []string) *protocol.Response {
	value, exists, err := s.cache.Get(args[0])
	if err != nil {
		return fromErr(err)
	}
	if !exists {
		return null()
	}
	return bulk(value)
}

// handleSet supports SET key value [EX seconds | PX milliseconds].
func (s *Server) handleSet(args []string) *protocol.Response {
	var ttl time.Duration
	opts := args[2:]
	for len(opts) > 0 {
		if len(opts) < 2 {
			return errorf("ERR syntax error")
		}
		n, errResp := parseInt(opts[1])
		if errResp != nil {
			return errResp
		}
		if n <= 0 {
			return errorf("ERR invalid expire time in 'set' command")
		}
		switch strings.ToUpper(opts[0]) {
		case "EX":
			ttl = time.Duration(n) * time.Second
		case "PX":
			ttl = time.Duration(n) * time.Millisecond
		default:
			return errorf("ERR syntax error")
		}
		opts = opts[2:]
	}

	s.cache.Set(args[0], args[1], ttl)
	return statusOK()
}

func (s *Server) handleDel(args []string) *protocol.Response {
	return integer(int64(s.cache.Del(args...)))
}

func (s *Server) handleExists(args []string) *protocol.Response {
	return integer(int64(s.cache.Exists(args...)))
}

// handleIncr serves INCR/DECR (delta 1) and INCRBY/DECRBY (delta from the
// second argument). sign is -1 for the decrementing forms.
func (s *Server) handleIncr(sign int64) func([]string) *protocol.Response {
	return func(args []string) *protocol.Response {
		delta := int64(1)
		if len(args) > 1 {
			var errResp *protocol.Response
			if delta, errResp = parseInt(args[1]); errResp != nil {
				return errResp
			}
		}
		if sign < 0 {
			if delta == math.MinInt64 {
				return errorf("ERR decrement would overflow")
			}
			delta = -delta
		}

		value, err := s.cache.IncrBy(args[0], delta)
		if err != nil {
			return fromErr(err)
		}
		return integer(value)
	}
}

func (s *Server) handleExpire(args []string) *protocol.Response {
	secs, errResp := parseInt(args[1])
	if errResp != nil {
		return errResp
	}
	return boolInt(s.cache.Expire(args[0], time.Duration(secs)*time.Second))
}

func (s *Server) handleTTL(args []string) *protocol.Response {
	ttl := s.cache.TTL(args[0])
	if ttl < 0 {
		return integer(int64(ttl / time.Second))
	}
	// Round up so a key with time left never reports 0.
	return integer(int64((ttl + time.Second - 1) / time.Second))
}

func (s *Server) handlePersist(args []string) *protocol.Response {
	return boolInt(s.cache.Persist(args[0]))
}

func (s *Server) handleHGet(args []string) *protocol.Response {
	value, exists, err := s.cache.HGet(args[0], args[1])
	if err != nil {
		return fromErr(err)
	}
	if !exists {
		return null()
	}
	return bulk(value)
}

func (s *Server) handleHSet(args []string) *protocol.Response {
	if len(args[1:])%2 != 0 {
		return errorf("ERR wrong number of arguments for 'hset' command")
	}
	added, err := s.cache.HSet(args[0], args[1:]...)
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(added))
}

func (s *Server) handleHDel(args []string) *protocol.Response {
	deleted, err := s.cache.HDel(args[0], args[1:]...)
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(deleted))
}

func (s *Server) handleHExists(args []string) *protocol.Response {
	_, exists, err := s.cache.HGet(args[0], args[1])
	if err != nil {
		return fromErr(err)
	}
	return boolInt(exists)
}

// handleHGetAll replies with field/value pairs ordered by field name.
func (s *Server) handleHGetAll(args []string) *protocol.Response {
	hash, err := s.cache.HGetAll(args[0])
	if err != nil {
		return fromErr(err)
	}
	result := make([]string, 0, len(hash)*2)
	for _, field := range slices.Sorted(maps.Keys(hash)) {
		result = append(result, field, hash[field])
	}
	return array(result)
}

func (s *Server) handleLPush(args []string) *protocol.Response {
	length, err := s.cache.LPush(args[0], args[1:]...)
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(length))
}

func (s *Server) handleRPush(args []string) *protocol.Response {
	length, err := s.cache.RPush(args[0], args[1:]...)
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(length))
}

func (s *Server) handleLPop(args []string) *protocol.Response {
	return popResponse(s.cache.LPop(args[0]))
}

func (s *Server) handleRPop(args []string) *protocol.Response {
	return popResponse(s.cache.RPop(args[0]))
}

func popResponse(value string, exists bool, err error) *protocol.Response {
	if err != nil {
		return fromErr(err)
	}
	if !exists {
		return null()
	}
	return bulk(value)
}

func (s *Server) handleLLen(args []string) *protocol.Response {
	length, err := s.cache.LLen(args[0])
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(length))
}

func (s *Server) handleLRange(args []string) *protocol.Response {
	start, errResp := parseInt(args[1])
	if errResp != nil {
		return errResp
	}
	stop, errResp := parseInt(args[2])
	if errResp != nil {
		return errResp
	}
	items, err := s.cache.LRange(args[0], int(start), int(stop))
	if err != nil {
		return fromErr(err)
	}
	return array(items)
}

func (s *Server) handleSAdd(args []string) *protocol.Response {
	added, err := s.cache.SAdd(args[0], args[1:]...)
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(added))
}

func (s *Server) handleSRem(args []string) *protocol.Response {
	removed, err := s.cache.SRem(args[0], args[1:]...)
	if err != nil {
		return fromErr(err)
	}
	return integer(int64(removed))
}

// handleSMembers replies with the members sorted.
func (s *Server) handleSMembers(args []string) *protocol.Response {
	members, err := s.cache.SMembers(args[0])
	if err != nil {
		return fromErr(err)
	}
	slices.Sort(members)
	return array(members)
}

func (s *Server) handleSIsMember(args []string) *protocol.Response {
	member, err := s.cache.SIsMember(args[0], args[1])
	if err != nil {
		return fromErr(err)
	}
	return boolInt(member)
}
