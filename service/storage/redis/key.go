package redis

import "github.com/google/uuid"

// MakeKey 通用实体缓存 key：<type>:<uuid 小写连字符>:<field>
func MakeKey(typeName string, id uuid.UUID, field string) string {
	buf := make([]byte, 0, len(typeName)+1+36+1+len(field))
	buf = append(buf, typeName...)
	buf = append(buf, ':')
	buf = append(buf, id.String()...)
	buf = append(buf, ':')
	buf = append(buf, field...)
	return string(buf)
}
