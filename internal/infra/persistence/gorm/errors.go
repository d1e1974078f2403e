package gormpersistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collaborative-codehub/internal/repository"
)

// mysqlDuplicateEntry 是 MySQL 唯一约束冲突的错误码 (ER_DUP_ENTRY)。
const mysqlDuplicateEntry = 1062

// duplicateKey 判断 err 是否为唯一约束冲突，并尽量取出冲突的索引名。
// MySQL 的消息形如 "Duplicate entry 'x' for key 'users.idx_username'"。
func duplicateKey(err error) (string, bool) {
	var mysqlErr *mysql.MySQLError
	switch {
	case errors.As(err, &mysqlErr):
		if mysqlErr.Number != mysqlDuplicateEntry {
			return "", false
		}
		return keyFromMessage(mysqlErr.Message), true
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "", true
	default:
		return "", false
	}
}

func keyFromMessage(msg string) string {
	const marker = "for key '"
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	key := strings.TrimSuffix(msg[i+len(marker):], "'")
	// MySQL 8 带表名前缀
	if dot := strings.LastIndex(key, "."); dot >= 0 {
		key = key[dot+1:]
	}
	return key
}

// asDuplicate 把唯一约束冲突映射为 repository.ErrDuplicateEntry，附带索引名。
// 不是冲突时返回 nil。
func asDuplicate(err error) error {
	key, ok := duplicateKey(err)
	switch {
	case !ok:
		return nil
	case key == "":
		return repository.ErrDuplicateEntry
	default:
		return fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, key)
	}
}
