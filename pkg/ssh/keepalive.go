package ssh

import (
	"time"
)

// StartKeepAlive 开启一个协程，定期向 SSH Server 发送心跳
// interval: 心跳间隔, <=0 时不启动
// done: 连接被正常回收时关闭, 协程随之退出
// fallback: 可选的回调函数，心跳失败时会先关闭连接再调用
func StartKeepAlive(client *Client, interval time.Duration, done <-chan struct{}, fallback func(err error)) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			// "keepalive@openssh.com" 是 OpenSSH 标准的心跳请求类型
			// wantReply = true: 服务器挂了或网络断了时 SendRequest 会报错
			_, _, err := client.sshClient.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				// 关闭连接后, Wait 返回, 连接池会把该会话移除
				client.Close()
				if fallback != nil {
					fallback(err)
				}
				return
			}
		}
	}()
}
