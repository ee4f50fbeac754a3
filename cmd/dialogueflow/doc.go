// dialogueflow 命令行入口：加载配置、解析凭证并运行一场完整对话。
package main
