// Package fetch 提供 file/http/https/ftp/nfs 的字节流 opener，以及描述各协议重试上限
// 与网络需求的 scheme 注册表。
//
// opener 只负责“从某个偏移打开一条只读流”，分块下载、续传、完整性校验与重试循环
// 由 cache 包负责。代理与网络连通性预检由显式传入的 Session 承载，不修改进程级状态。
package fetch
