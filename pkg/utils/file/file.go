package file

import (
	"os"
	"path/filepath"
)

// EnsureParentDir 创建 filePath 所在的目录 (已存在时不做任何事)
func EnsureParentDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// CreateFileRecursive 递归创建文件并写入内容
func CreateFileRecursive(filePath string, content []byte, perm os.FileMode) error {
	if err := EnsureParentDir(filePath); err != nil {
		return err
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer file.Close()

	if content != nil {
		if _, err := file.Write(content); err != nil {
			return err
		}
	}
	return nil
}
