package utils

import (
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"
)

const (
	ConfigDirName  = ".xfer"
	ConfigFileName = "config.yaml"
)

// ParseAddr 解析 user@host:port 格式的字符串
func ParseAddr(input string) (string, string, uint16) {
	var user, host string = "", ""
	var port uint16 = 0
	if atIndex := strings.Index(input, ":"); atIndex != -1 {
		port = ParsePort(input[atIndex+1:])
		input = input[:atIndex]
	}
	if atIndex := strings.Index(input, "@"); atIndex != -1 {
		user = strings.TrimSpace(input[:atIndex])
		input = input[atIndex+1:]
	}
	host = strings.TrimSpace(input)

	return user, host, port
}

// ParsePort 解析端口字符串
// 如果输入为空字符串，则返回0
func ParsePort(input string) uint16 {
	if input == "" {
		return 0
	}
	port64, err := strconv.ParseUint(input, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port64)
}

// IsRemote 判断参数是否为 [user@]host[:port]:path 形式的远程路径
// 以 / 或 . 开头的参数总是本地路径
func IsRemote(arg string) bool {
	if strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, ".") {
		return false
	}
	idx := strings.Index(arg, ":")
	return idx > 0
}

// SplitRemote 把 [user@]host[:port]:path 拆分为 [user@]host[:port] 和 path
// 端口只能由数字组成, 因此 host:22:/data 与 host:/data 都能正确识别
func SplitRemote(arg string) (target, path string, err error) {
	idx := strings.Index(arg, ":")
	if idx <= 0 {
		return "", "", fmt.Errorf("无效的远程路径: %s", arg)
	}
	target, rest := arg[:idx], arg[idx+1:]
	if next := strings.Index(rest, ":"); next > 0 && isDigits(rest[:next]) {
		target = arg[:idx+1+next]
		rest = rest[next+1:]
	}
	if rest == "" {
		rest = "."
	}
	return target, rest, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func GetCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		return ""
	}
	return currentUser.Username
}

// GetConfigFilePath 返回默认配置文件路径 ~/.xfer/config.yaml
func GetConfigFilePath() string {
	user, err := user.Current()
	if err != nil {
		return ""
	}
	return filepath.Join(user.HomeDir, ConfigDirName, ConfigFileName)
}

// ReadPasswordFromTerminal 从终端安全地读取密码
func ReadPasswordFromTerminal(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // 打印换行符，因为 ReadPassword 不会打印换行符
	if err != nil {
		return "", err
	}
	return string(password), nil
}
