// Package hitl 提供对话中的人工介入能力。
//
// 非自主参与者发言或人工仲裁时，Router 通过 conversation.HumanInput 等待输入。
// InterruptInput 把每次等待登记为一个中断，由 API、控制台或其他前端解决；
// ConsoleInput 直接从终端读取一行。
package hitl
