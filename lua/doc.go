// Package lua implements server-side scripting with gopher-lua.
//
// Scripts see the KEYS and ARGV tables and reach the keyspace through
// redis.call and redis.pcall, which run commands through the same
// dispatcher clients use. Reply conversion follows the usual rules:
// integers become numbers, bulk strings become strings, nil replies become
// false, arrays become tables, and status or error replies become tables
// with an ok or err field.
//
// Only the base, table, string and math libraries are opened.
package lua
