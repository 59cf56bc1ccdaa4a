/*
包 conversation 实现基于发言人转移图的多参与者对话路由。

# 概述

Router 在一组具名参与者之间按轮次推进对话：每轮根据转移图确定
当前发言人允许的后继集合，必要时交给仲裁策略选出一个，
把累计的对话记录（或其窗口）交给该参与者取得回复，追加到记录，
然后评估终止条件。

# 核心类型

  - Plan：对话配置（参与者、转移表、发起人、轮次上限、仲裁策略、
    全局终止条件），构造后不再修改
  - TransitionGraph：显式有向图，O(1) 查询后继集合，允许自环
  - Responder / HumanInput：自主参与者与需要外部输入的参与者
  - Reply：TextReply | ToolCallReply | ToolResultReply
  - Arbiter：多个合法后继时的仲裁策略
  - Session：一次运行的状态，追加式记录，终态后不可变

# 错误

ProtocolDeadlock 与 AmbiguousTransition 表示转移图配置问题，
不会自动重试；MalformedReply 与单轮超时会带澄清提示重试一次；
RoundLimitExceeded 与 Cancelled 不视为失败，部分记录照常返回；
协作方不可用时会话停在最后一致状态，可通过 Router.Resume 继续。
*/
package conversation
